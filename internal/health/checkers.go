package health

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
)

const defaultProbeTimeout = 3 * time.Second

// Pinger is implemented by the state manager
type Pinger interface {
	Ping(ctx context.Context) error
}

// DatabaseChecker checks database connectivity
type DatabaseChecker struct {
	db     Pinger
	dbPath string
}

func NewDatabaseChecker(db Pinger, dbPath string) *DatabaseChecker {
	return &DatabaseChecker{db: db, dbPath: dbPath}
}

func (c *DatabaseChecker) Name() string {
	return "database"
}

func (c *DatabaseChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}
	check.Details["path"] = c.dbPath

	if c.db == nil {
		check.Status = StatusDegraded
		check.Message = "Database not configured"
		return check
	}

	if err := c.db.Ping(ctx); err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Database ping failed: %v", err)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Database OK"
	return check
}

// SnapshotDirChecker verifies the snapshot directory accepts writes
type SnapshotDirChecker struct {
	dir string
}

func NewSnapshotDirChecker(dir string) *SnapshotDirChecker {
	return &SnapshotDirChecker{dir: dir}
}

func (c *SnapshotDirChecker) Name() string {
	return "snapshot_dir"
}

func (c *SnapshotDirChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details:   map[string]interface{}{"dir": c.dir},
	}

	if c.dir == "" {
		check.Status = StatusUnhealthy
		check.Message = "Snapshot directory not configured"
		return check
	}

	if err := os.MkdirAll(c.dir, 0755); err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Cannot create snapshot directory: %v", err)
		return check
	}

	f, err := os.CreateTemp(c.dir, ".health-*")
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Snapshot directory not writable: %v", err)
		return check
	}
	name := f.Name()
	f.Close()
	os.Remove(name)

	if info, err := os.Stat(filepath.Join(c.dir, "screen.jpg")); err == nil {
		check.Details["last_snapshot"] = info.ModTime()
	}

	check.Status = StatusHealthy
	check.Message = "Snapshot directory writable"
	return check
}

// DeviceChecker checks the camera's HTTP port is reachable
type DeviceChecker struct {
	addr    string
	timeout time.Duration
}

func NewDeviceChecker(host string, port int, timeout time.Duration) *DeviceChecker {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	return &DeviceChecker{
		addr:    net.JoinHostPort(host, strconv.Itoa(port)),
		timeout: timeout,
	}
}

func (c *DeviceChecker) Name() string {
	return "device"
}

func (c *DeviceChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details:   map[string]interface{}{"addr": c.addr},
	}

	dialer := net.Dialer{Timeout: c.timeout}
	start := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Device unreachable: %v", err)
		return check
	}
	conn.Close()

	check.Details["latency_ms"] = time.Since(start).Milliseconds()
	check.Status = StatusHealthy
	check.Message = "Device reachable"
	return check
}

// ConnectionChecker reports degraded while a long-lived connection is down
type ConnectionChecker struct {
	name      string
	connected func() bool
}

func NewConnectionChecker(name string, connected func() bool) *ConnectionChecker {
	return &ConnectionChecker{name: name, connected: connected}
}

func (c *ConnectionChecker) Name() string {
	return c.name
}

func (c *ConnectionChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
	}

	if c.connected != nil && c.connected() {
		check.Status = StatusHealthy
		check.Message = "Connected"
		return check
	}

	check.Status = StatusDegraded
	check.Message = "Not connected"
	return check
}

// RTSPChecker issues a DESCRIBE against the camera stream
type RTSPChecker struct {
	url     *base.URL
	timeout time.Duration
}

func NewRTSPChecker(u *base.URL, timeout time.Duration) *RTSPChecker {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	return &RTSPChecker{url: u, timeout: timeout}
}

func (c *RTSPChecker) Name() string {
	return "rtsp"
}

type describeResult struct {
	medias int
	err    error
}

func (c *RTSPChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}

	if c.url == nil {
		check.Status = StatusDegraded
		check.Message = "RTSP URL not configured"
		return check
	}
	check.Details["host"] = c.url.Host

	done := make(chan describeResult, 1)
	go func() {
		done <- c.describe()
	}()

	select {
	case <-ctx.Done():
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("RTSP probe cancelled: %v", ctx.Err())
		return check
	case res := <-done:
		if res.err != nil {
			check.Status = StatusUnhealthy
			check.Message = fmt.Sprintf("RTSP DESCRIBE failed: %v", res.err)
			return check
		}
		check.Details["medias"] = res.medias
	}

	check.Status = StatusHealthy
	check.Message = "RTSP stream available"
	return check
}

func (c *RTSPChecker) describe() describeResult {
	client := gortsplib.Client{
		ReadTimeout:  c.timeout,
		WriteTimeout: c.timeout,
	}

	if err := client.Start(c.url.Scheme, c.url.Host); err != nil {
		return describeResult{err: err}
	}
	defer client.Close()

	desc, _, err := client.Describe(c.url)
	if err != nil {
		return describeResult{err: err}
	}
	return describeResult{medias: len(desc.Medias)}
}
