package security

import (
	"homeapps/pkg/app"
)

func init() {
	app.Register(app.Info{
		Name:        appName,
		Description: "Lock service interception and throttled moisture alerts",
		Order:       60,
		Factory:     createApp,
	})
}

func createApp(ctx *app.Context) ([]app.App, error) {
	cfg := DefaultConfig()
	if _, err := ctx.Config.AppSection(appName, &cfg); err != nil {
		return nil, err
	}
	if !cfg.enabled() {
		return nil, nil
	}

	manager := NewManager(ctx.Bus, ctx.Store, cfg, ctx.Logger)
	return []app.App{manager}, nil
}
