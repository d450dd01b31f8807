package climate

import (
	"homeapps/pkg/app"
)

func init() {
	app.Register(app.Info{
		Name:        appName,
		Description: "Threshold-based AC control from temperature sensors",
		Order:       30,
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

	manager := NewManager(ctx.HA, ctx.Bus, ctx.Scheduler, ctx.Store, cfg, ctx.Logger, ctx.ReadOnly)
	return []app.App{manager}, nil
}
