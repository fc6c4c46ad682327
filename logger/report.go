package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type flowStat struct {
	events int64
	units  int64
}

var (
	errorsClient int64
	errorsExport int64
	warnsClient  int64
	warnsExport  int64
	queriesTotal int64
	retriesTotal int64
	rowsFetched  int64
	exportsTotal int64
	flows        sync.Map // map[string]*flowStat
)

func recordWarn(component string) {
	if strings.Contains(component, "lincs") {
		atomic.AddInt64(&warnsClient, 1)
	} else if strings.Contains(component, "export") {
		atomic.AddInt64(&warnsExport, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "lincs") {
		atomic.AddInt64(&errorsClient, 1)
	} else if strings.Contains(component, "export") {
		atomic.AddInt64(&errorsExport, 1)
	}
}

// IncrementQuery records a completed upstream query and the number of rows it
// returned. The direction keys a per-flow breakdown in the periodic report.
func IncrementQuery(direction string, rows int) {
	atomic.AddInt64(&queriesTotal, 1)
	atomic.AddInt64(&rowsFetched, int64(rows))
	recordFlow("query_"+direction, rows)
}

// IncrementRetry records a retry wait before a repeated upstream attempt.
func IncrementRetry() {
	atomic.AddInt64(&retriesTotal, 1)
}

// IncrementExport records a produced export artifact and its size in bytes.
func IncrementExport(format string, size int64) {
	atomic.AddInt64(&exportsTotal, 1)
	recordFlow("export_"+format, int(size))
}

// RecordFlow counts an event on a named flow, units being rows or bytes
// depending on the flow.
func RecordFlow(name string, units int) {
	recordFlow(name, units)
}

func recordFlow(name string, units int) {
	v, _ := flows.LoadOrStore(name, &flowStat{})
	fs := v.(*flowStat)
	atomic.AddInt64(&fs.events, 1)
	atomic.AddInt64(&fs.units, int64(units))
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

// StartReport begins periodic logging of system and flow statistics.
// It exposes the internal startReport function for use by other packages.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	diskStats, _ := disk.Usage("/")
	netStats, _ := gnet.IOCounters(false)
	flowData := map[string]map[string]int64{}
	flows.Range(func(k, v any) bool {
		name := k.(string)
		fs := v.(*flowStat)
		flowData[name] = map[string]int64{
			"events": atomic.LoadInt64(&fs.events),
			"units":  atomic.LoadInt64(&fs.units),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	bytesSent := uint64(0)
	bytesRecv := uint64(0)
	if len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	fields := Fields{
		"errors_client":  atomic.LoadInt64(&errorsClient),
		"errors_export":  atomic.LoadInt64(&errorsExport),
		"warns_client":   atomic.LoadInt64(&warnsClient),
		"warns_export":   atomic.LoadInt64(&warnsExport),
		"queries_total":  atomic.LoadInt64(&queriesTotal),
		"retries_total":  atomic.LoadInt64(&retriesTotal),
		"rows_fetched":   atomic.LoadInt64(&rowsFetched),
		"exports_total":  atomic.LoadInt64(&exportsTotal),
		"goroutines":     runtime.NumGoroutine(),
		"cpu_percent":    cpuPct,
		"memory_mb":      int64(memStats.Used) / 1024 / 1024,
		"disk_mb":        int64(diskStats.Used) / 1024 / 1024,
		"flows":          flowData,
		"net_bytes_sent": int64(bytesSent),
		"net_bytes_recv": int64(bytesRecv),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("DiskMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(diskStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("QueriesTotal"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["queries_total"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("QueryErrors"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_client"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("ExportErrors"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_export"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("RetriesTotal"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["retries_total"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("RowsFetched"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["rows_fetched"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("ExportsTotal"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["exports_total"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		cwtypes.MetricDatum{MetricName: aws.String("NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	)

	for name, stats := range flowData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("FlowEvents"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Flow"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["events"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("FlowUnits"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Flow"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["units"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
