//go:build !windows

package svcmanager

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udsactor/agent/pkg/syncx"
)

// program's Init/Start/Stop are exercised directly rather than through
// svc.Run, which blocks on an OS signal the test would otherwise have to
// send itself.

func TestProgramStartRunsBodyUntilStop(t *testing.T) {
	stop := syncx.NewOnceSignal()
	started := make(chan struct{})

	p := &program{
		run: func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return nil
		},
		stop:   stop,
		logger: zerolog.Nop(),
	}

	require.NoError(t, p.Init(nil))
	require.NoError(t, p.Start())

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("run body never started")
	}

	stop.Set()

	select {
	case err := <-p.done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("run body never observed Stop")
	}
}

func TestProgramStopReturnsRunError(t *testing.T) {
	stop := syncx.NewOnceSignal()
	wantErr := errors.New("boom")

	p := &program{
		run: func(ctx context.Context) error {
			<-ctx.Done()
			return wantErr
		},
		stop:   stop,
		logger: zerolog.Nop(),
	}

	require.NoError(t, p.Start())
	err := p.Stop()
	assert.ErrorIs(t, err, wantErr)
}

func TestInstallUninstallAreNoOpsOnUnix(t *testing.T) {
	assert.NoError(t, Install(InstallOptions{Name: "udsactor"}))
	assert.NoError(t, Uninstall("udsactor"))
}
