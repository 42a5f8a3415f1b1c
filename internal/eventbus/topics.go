package eventbus

// Event names used by the relay and its commands.
const (
	TopicAppStart    = "app.start"
	TopicAppShutdown = "app.shutdown"
	TopicDataCreated = "data.created"
	TopicDataChanged = "data.changed"
	TopicDatabaseOp  = "database.operation"
	TopicHealthCheck = "system.health.check"
	TopicUserLogin   = "user.login"
	TopicUserLogout  = "user.logout"
	TopicCounterIncr = "counter.incremented"

	// Connection lifecycle.
	TopicFrontendConnected    = "frontend.connected"
	TopicFrontendDisconnected = "frontend.disconnected"
	TopicBackendConnected     = "backend.connected"
	TopicUIReady              = "ui.ready"

	TopicWindowStateChange = "window.state.change"
)
