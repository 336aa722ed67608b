package cerise

import (
	"fmt"

	"github.com/rcrowley/go-metrics"
)

func getOrRegisterHistogram(name string, r metrics.Registry) metrics.Histogram {
	return r.GetOrRegister(name, func() metrics.Histogram {
		return metrics.NewHistogram(metrics.NewExpDecaySample(1028, 0.015))
	}).(metrics.Histogram)
}

func getMetricNameForServer(name string, addr string) string {
	return fmt.Sprintf(name+"-for-server-%s", addr)
}

func getOrRegisterServerMeter(name string, addr string, r metrics.Registry) metrics.Meter {
	return metrics.GetOrRegisterMeter(getMetricNameForServer(name, addr), r)
}

func getOrRegisterServerHistogram(name string, addr string, r metrics.Registry) metrics.Histogram {
	return getOrRegisterHistogram(getMetricNameForServer(name, addr), r)
}
