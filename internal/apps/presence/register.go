package presence

import (
	"homeapps/pkg/app"
)

func init() {
	app.Register(app.Info{
		Name:        appName,
		Description: "Per-person presence tracking with a published presence sensor",
		Order:       20,
		Factory:     createApps,
	})
}

func createApps(ctx *app.Context) ([]app.App, error) {
	var instances []InstanceConfig
	found, err := ctx.Config.AppSection(appName, &instances)
	if err != nil {
		return nil, err
	}
	if !found {
		instances = []InstanceConfig{DefaultInstance()}
	}

	apps := make([]app.App, 0, len(instances))
	for i := range instances {
		if err := instances[i].normalize(i); err != nil {
			return nil, err
		}
		manager := NewManager(ctx.HA, ctx.Bus, ctx.Scheduler, ctx.Store, instances[i], ctx.Logger, ctx.ReadOnly)
		apps = append(apps, manager)
	}
	return apps, nil
}
