package executor

import (
	"context"
	"encoding/json"

	"github.com/alfredjeanlab/relay/internal/eventbus"
	"github.com/alfredjeanlab/relay/internal/model"
	"github.com/alfredjeanlab/relay/internal/windows"
)

// Built-in function names.
const (
	FuncGetUsers          = "get_users"
	FuncGetDBStats        = "get_db_stats"
	FuncUIReady           = "ui.ready"
	FuncWindowStateChange = "window_state_change"
	FuncGetWindows        = "get_windows"
)

type usersResult struct {
	Success bool         `json:"success"`
	Data    []model.User `json:"data"`
	Error   string       `json:"error,omitempty"`
}

type statsResult struct {
	Success bool                `json:"success"`
	Stats   model.DatabaseStats `json:"stats"`
	Error   string              `json:"error,omitempty"`
}

type messageResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type windowsResult struct {
	Success bool           `json:"success"`
	Data    []windows.Info `json:"data"`
}

func (c *Commands) registerBuiltins() {
	c.Register(FuncGetUsers, c.getUsers)
	c.Register(FuncGetDBStats, c.getDBStats)
	c.Register(FuncUIReady, c.uiReady)
	c.Register(FuncWindowStateChange, c.windowStateChange)
	c.Register(eventbus.TopicWindowStateChange, c.windowStateChange)
	c.Register(FuncGetWindows, c.getWindows)
}

func (c *Commands) getUsers(ctx context.Context, _ json.RawMessage) any {
	s, err := c.Store()
	if err != nil {
		c.logger.Warn("executor: get_users without store", "err", err)
		return usersResult{Data: []model.User{}, Error: err.Error()}
	}
	users, err := s.ListUsers(ctx)
	if err != nil {
		c.logger.Error("executor: list users", "err", err)
		c.emit(eventbus.TopicDatabaseOp, map[string]any{
			"operation": FuncGetUsers, "success": false, "error": err.Error(),
		})
		return usersResult{Data: []model.User{}, Error: err.Error()}
	}
	c.emit(eventbus.TopicDatabaseOp, map[string]any{
		"operation": FuncGetUsers, "success": true, "count": len(users),
	})
	return usersResult{Success: true, Data: users}
}

func (c *Commands) getDBStats(ctx context.Context, _ json.RawMessage) any {
	empty := model.DatabaseStats{Tables: []string{}}
	s, err := c.Store()
	if err != nil {
		c.logger.Warn("executor: get_db_stats without store", "err", err)
		return statsResult{Stats: empty, Error: err.Error()}
	}
	stats, err := s.Stats(ctx)
	if err != nil {
		c.logger.Error("executor: database stats", "err", err)
		return statsResult{Stats: empty, Error: err.Error()}
	}
	return statsResult{Success: true, Stats: stats}
}

func (c *Commands) uiReady(_ context.Context, _ json.RawMessage) any {
	c.emit(eventbus.TopicBackendConnected, map[string]string{
		"message": "Backend connected and ready",
	})
	return messageResult{Success: true, Message: "UI ready event processed, backend connected"}
}

func (c *Commands) windowStateChange(_ context.Context, payload json.RawMessage) any {
	if err := c.windows.ApplyJSON(payload); err != nil {
		c.logger.Warn("executor: window state change", "err", err)
	}
	return messageResult{Success: true, Message: "Window state change logged"}
}

func (c *Commands) getWindows(_ context.Context, _ json.RawMessage) any {
	return windowsResult{Success: true, Data: c.windows.Windows()}
}

func (c *Commands) emit(name string, v any) {
	if c.bus == nil {
		return
	}
	if err := c.bus.EmitSimple(name, v); err != nil {
		c.logger.Error("executor: emit", "topic", name, "err", err)
	}
}
