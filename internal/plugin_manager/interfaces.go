// Package plugin_manager hosts event-driven plugins behind a narrow
// context facade.
package plugin_manager

import (
	"context"

	"github.com/CalmProton/SquadScript-sub001/internal/event_manager"
)

// Plugin is one hosted extension. Instances are created per definition
// and live through Initialize -> Start -> HandleEvent* -> Stop.
type Plugin interface {
	// GetDefinition returns the plugin definition.
	GetDefinition() PluginDefinition

	// Initialize sets up the plugin with its configuration and the
	// context facade.
	Initialize(config map[string]any, pctx *PluginContext) error

	// Start begins plugin execution for long-running plugins; event-only
	// plugins may return immediately.
	Start(ctx context.Context) error

	// Stop gracefully stops the plugin.
	Stop() error

	// HandleEvent processes one event the plugin subscribed to.
	HandleEvent(event *event_manager.Event) error

	// GetStatus returns the current plugin status.
	GetStatus() PluginStatus

	// UpdateConfig applies a configuration change at runtime.
	UpdateConfig(config map[string]any) error
}

// PluginDefinition is the static metadata of a plugin kind.
type PluginDefinition struct {
	ID             string                    `json:"id"`
	Name           string                    `json:"name"`
	Description    string                    `json:"description"`
	Version        string                    `json:"version"`
	Author         string                    `json:"author"`
	Events         []event_manager.EventType `json:"events"`
	LongRunning    bool                      `json:"long_running"`
	CreateInstance func() Plugin             `json:"-"`
}

// PluginStatus is the lifecycle state of one plugin instance.
type PluginStatus string

const (
	PluginStatusStopped  PluginStatus = "stopped"
	PluginStatusStarting PluginStatus = "starting"
	PluginStatusRunning  PluginStatus = "running"
	PluginStatusStopping PluginStatus = "stopping"
	PluginStatusError    PluginStatus = "error"
	PluginStatusDisabled PluginStatus = "disabled"
)
