package telemetry_test

import (
	"context"
	"errors"
	"fmt"

	"github.com/openfroyo/cfgtree/pkg/telemetry"
)

// Example_eventPublishing shows subscribers receiving load events.
func Example_eventPublishing() {
	cfg := telemetry.DefaultConfig()
	cfg.Metrics.Enabled = false
	cfg.Logging.Output = "stderr"

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("%s %s: %s\n", event.Type, event.Source, event.Message)
	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))

	_ = tel.Events.PublishLoad("run-1", "app.conf", nil, 0)
	_ = tel.Events.PublishLoad("run-2", "app.conf", errors.New("app.conf:3: no such option 'x'"), 1)

	// Output:
	// load.failed app.conf: app.conf:3: no such option 'x'
}
