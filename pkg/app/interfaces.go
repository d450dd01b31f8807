// Package app defines the contract automation apps implement and the
// registry the runtime instantiates them from. App packages register a
// factory from init(), and the runtime creates every configured instance
// at startup.
package app

// App is the interface all automation apps implement.
type App interface {
	// Name returns the instance's unique identifier, used for logging
	// and the status API. Multi-instance apps suffix the app name with
	// the instance name.
	Name() string

	// Start registers the app's subscriptions and scheduled jobs.
	Start() error

	// Stop cancels subscriptions and jobs and persists anything the app
	// wants to survive a restart.
	Stop()
}

// Factory creates the configured instances of one app. Apps that support
// multiple instances return one App per configured instance; apps with an
// absent or disabled config section return an empty slice.
type Factory func(ctx *Context) ([]App, error)
