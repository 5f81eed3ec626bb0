// Package prof pushes continuous profiles to a pyroscope server.
package prof

import (
	"context"
	"fmt"
	"net/url"
	"runtime"
	"sync"
	"time"

	"github.com/grafana/pyroscope-go"

	"github.com/keithlinneman/linnemanlabs-gate/internal/log"
	"github.com/keithlinneman/linnemanlabs-gate/internal/xerrors"
)

type Options struct {
	Enabled       bool
	AppName       string
	ServerAddress string
	TenantID      string
	Tags          map[string]string

	BasicAuthUser     string
	BasicAuthPassword string

	// UploadRate is the push interval, 0 keeps the agent default of 15s
	UploadRate time.Duration

	ProfileMutexFraction int
	BlockProfileRate     int
}

func (o Options) validate() error {
	if o.ServerAddress == "" {
		return xerrors.Newf("invalid server address (%q)", o.ServerAddress)
	}
	u, err := url.Parse(o.ServerAddress)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return xerrors.Newf("invalid server address (%q): must be an absolute url", o.ServerAddress)
	}
	if o.AppName == "" {
		return xerrors.New("pyroscope application name is required")
	}
	return nil
}

// Start launches the profiler. The returned stop func is never nil and is
// safe to call more than once, also after an error.
func Start(ctx context.Context, opts Options) (func(), error) {
	L := log.FromContext(ctx)

	if !opts.Enabled {
		L.Info(ctx, "pyroscope disabled")
		return func() {}, nil
	}

	if err := opts.validate(); err != nil {
		L.Error(ctx, err, "pyroscope options")
		return func() {}, err
	}

	if opts.ProfileMutexFraction > 0 {
		runtime.SetMutexProfileFraction(opts.ProfileMutexFraction)
	}
	if opts.BlockProfileRate > 0 {
		runtime.SetBlockProfileRate(opts.BlockProfileRate)
	}

	cfg := pyroscope.Config{
		ApplicationName:   opts.AppName,
		ServerAddress:     opts.ServerAddress,
		TenantID:          opts.TenantID,
		BasicAuthUser:     opts.BasicAuthUser,
		BasicAuthPassword: opts.BasicAuthPassword,
		Tags:              opts.Tags,
		UploadRate:        opts.UploadRate,
		Logger:            agentLogger{ctx: ctx, L: L.With("subsystem", "pyroscope")},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
			pyroscope.ProfileGoroutines,
			pyroscope.ProfileMutexCount,
			pyroscope.ProfileMutexDuration,
			pyroscope.ProfileBlockCount,
			pyroscope.ProfileBlockDuration,
		},
	}

	profiler, err := pyroscope.Start(cfg)
	if err != nil {
		err = xerrors.Wrapf(err, "start pyroscope server_address=%s", opts.ServerAddress)
		L.Error(ctx, err, "pyroscope start failed", "app_name", opts.AppName)
		return func() {}, err
	}

	L.Info(ctx, "pyroscope started",
		"server_address", opts.ServerAddress,
		"app_name", opts.AppName,
	)

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = profiler.Stop()
			L.Info(context.Background(), "pyroscope stopped", "app_name", opts.AppName)
		})
	}, nil
}

// agentLogger routes pyroscope agent output into the application logger.
// Agent errors are logged as warnings: a failed upload never affects serving.
type agentLogger struct {
	ctx context.Context
	L   log.Logger
}

func (a agentLogger) Infof(format string, args ...any) {
	a.L.Debug(a.ctx, fmt.Sprintf(format, args...))
}

func (a agentLogger) Debugf(format string, args ...any) {
	a.L.Debug(a.ctx, fmt.Sprintf(format, args...))
}

func (a agentLogger) Errorf(format string, args ...any) {
	a.L.Warn(a.ctx, fmt.Sprintf(format, args...))
}
