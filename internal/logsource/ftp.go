package logsource

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"
)

// Credentials hold remote log host access parameters.
type Credentials struct {
	Host     string
	Port     int
	User     string
	Password string
}

type ftpClient struct {
	creds   Credentials
	timeout time.Duration

	mu   sync.Mutex
	conn *ftp.ServerConn
}

func (c *ftpClient) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", c.creds.Host, c.creds.Port)
	conn, err := ftp.Dial(addr, ftp.DialWithTimeout(c.timeout))
	if err != nil {
		return ErrConnectionFailed
	}
	if err := conn.Login(c.creds.User, c.creds.Password); err != nil {
		conn.Quit()
		return ErrAuthFailed
	}
	c.conn = conn
	return nil
}

// reconnectLocked drops and redials the session; FTP control channels
// routinely idle out between polls.
func (c *ftpClient) reconnectLocked() error {
	if c.conn != nil {
		c.conn.Quit()
		c.conn = nil
	}
	addr := fmt.Sprintf("%s:%d", c.creds.Host, c.creds.Port)
	conn, err := ftp.Dial(addr, ftp.DialWithTimeout(c.timeout))
	if err != nil {
		return ErrConnectionFailed
	}
	if err := conn.Login(c.creds.User, c.creds.Password); err != nil {
		conn.Quit()
		return ErrAuthFailed
	}
	c.conn = conn
	return nil
}

func (c *ftpClient) Size(path string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		if err := c.reconnectLocked(); err != nil {
			return 0, err
		}
	}

	size, err := c.conn.FileSize(path)
	if err != nil {
		// One retry on a fresh session before reporting the file gone.
		if rerr := c.reconnectLocked(); rerr != nil {
			return 0, rerr
		}
		size, err = c.conn.FileSize(path)
		if err != nil {
			return 0, ErrFileNotFound
		}
	}
	return size, nil
}

func (c *ftpClient) ReadRange(path string, offset int64, w *bytes.Buffer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		if err := c.reconnectLocked(); err != nil {
			return err
		}
	}

	resp, err := c.conn.RetrFrom(path, uint64(offset))
	if err != nil {
		return ErrReadError
	}
	defer resp.Close()
	if _, err := io.Copy(w, resp); err != nil {
		return ErrReadError
	}
	return nil
}

func (c *ftpClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Quit()
	c.conn = nil
	return err
}

// FTPSource follows a log file on an FTP host by polling.
type FTPSource struct {
	*remotePoller
}

func NewFTPSource(cfg PollConfig, creds Credentials, connectTimeout time.Duration) *FTPSource {
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	client := &ftpClient{creds: creds, timeout: connectTimeout}
	return &FTPSource{remotePoller: newRemotePoller("FTPSource", cfg, client)}
}
