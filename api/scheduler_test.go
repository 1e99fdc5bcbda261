package api

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/warp/fee-engine/config"
	"github.com/warp/fee-engine/exemption"
	"github.com/warp/fee-engine/generic"
	"github.com/warp/fee-engine/logger"
)

func TestScheduler_RunNowSweepsAndLogsOnce(t *testing.T) {
	h, _ := setupMember(t)
	ctx := context.Background()
	core, logs := observer.New(zapcore.DebugLevel)
	log := &logger.Logger{SugaredLogger: zap.New(core).Sugar()}
	clock := generic.FixedClock(testNow)

	// GIVEN: An approved exemption whose window has started
	exemptions := exemption.NewService(h.Store, h.Trail, h.Cuotas, clock, log)
	e, err := exemptions.Request(ctx, exemption.RequestInput{
		PersonID:      "socio-1",
		Kind:          generic.ExemptionPartial,
		Percentage:    decimal.NewFromInt(50),
		AppliesToBase: true,
		Motive:        "BECA",
		ValidFrom:     generic.Date(2025, 3, 1),
		RequestedBy:   "secretaria",
	})
	require.NoError(t, err)
	_, err = exemptions.Approve(ctx, e.ID, "comision")
	require.NoError(t, err)

	cfg := config.Default().Engine
	cfg.AuditRetentionDays = 0
	scheduler := NewScheduler(exemptions, h.Trail, cfg, clock, log)

	// WHEN: Running the jobs once
	scheduler.RunNow(ctx)

	// THEN: The exemption is in force and the sweep summary is logged once
	got, err := exemptions.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, generic.ExemptionInForce, got.State)
	assert.Equal(t, 1, logs.FilterMessage("exemption sweep").Len())
	assert.Zero(t, logs.FilterMessage("exemption sweep failed").Len())
}
