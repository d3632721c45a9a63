package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FareCast/internal/domain/errs"
	"FareCast/internal/domain/models"
)

func TestRouteStatusUseCase_GetStatus(t *testing.T) {
	ctx := context.Background()
	e := newForecastEnv(flat(1000))
	e.observe(t, "MNL-CEB", 2100)
	fs := e.server(t)
	ev := NewStalenessEvaluator(e.registry, e.store, nil, StalenessOptions{MaxAge: 24 * time.Hour}, WithStalenessClock(e.clk.Now))
	uc := NewRouteStatusUseCase(testCatalog(t), e.registry, e.store, ev, fs)

	st, err := uc.GetStatus(ctx, "MNL-CEB")
	require.NoError(t, err)
	assert.Nil(t, st.ActiveModel)
	require.NotNil(t, st.Verdict)
	assert.Equal(t, models.ReasonNoModel, st.Verdict.Reason)
	require.NotNil(t, st.Latest)
	assert.Equal(t, 2100.0, st.Latest.Price)
	require.NotNil(t, st.Forecast)
	assert.True(t, st.Forecast.Degraded)
	assert.Len(t, st.Forecast.Points, 7)
	assert.Nil(t, st.Errors)

	vid := e.activate(t, "MNL-CEB", e.clk.Now())
	st, err = uc.GetStatus(ctx, "MNL-CEB")
	require.NoError(t, err)
	require.NotNil(t, st.ActiveModel)
	assert.Equal(t, vid, st.ActiveModel.VersionID)
	assert.False(t, st.Verdict.NeedsRetrain)
	assert.False(t, st.Forecast.Degraded)

	_, err = uc.GetStatus(ctx, "XXX-YYY")
	assert.True(t, errors.Is(err, errs.ErrUnknownRoute))
}
