package motionlights

import (
	"homeapps/pkg/app"
)

func init() {
	app.Register(app.Info{
		Name:        appName,
		Description: "Motion-activated lighting, one instance per sensor/light pairing",
		Order:       50,
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
		manager := NewManager(ctx.HA, ctx.Bus, ctx.Store, instances[i], ctx.Logger, ctx.ReadOnly)
		apps = append(apps, manager)
	}
	return apps, nil
}
