package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilmarkets/oraclecore/internal/domain"
)

func TestRegisterAppliesDefaults(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	err := env.oracleSvc.Register(ctx, domain.Oracle{Address: testAddr(1)})
	require.NoError(t, err)

	o, err := env.oracleSvc.Get(ctx, testAddr(1))
	require.NoError(t, err)
	assert.Equal(t, uint8(50), o.Reputation)
	assert.Equal(t, []domain.Category{domain.CategoryGeneral}, o.Specialization)
	assert.True(t, o.Active)
	assert.False(t, o.RegisteredAt.IsZero())

	assert.True(t, env.audit.has("oracle.registered"))
}

func TestRegisterDuplicate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.oracleSvc.Register(ctx, domain.Oracle{Address: testAddr(1)}))

	err := env.oracleSvc.Register(ctx, domain.Oracle{Address: testAddr(1)})
	require.ErrorIs(t, err, domain.ErrDuplicateOracle)
}

func TestGetUnknownOracle(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.oracleSvc.Get(context.Background(), testAddr(1))
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSelectForMarketPrefersSpecialists(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.oracles.Create(ctx, domain.Oracle{
		Address:        testAddr(1),
		Reputation:     76,
		Specialization: []domain.Category{domain.CategorySports},
		Active:         true,
	}))
	require.NoError(t, env.oracles.Create(ctx, domain.Oracle{
		Address:        testAddr(2),
		Reputation:     95,
		Specialization: []domain.Category{domain.CategoryGeneral},
		Active:         true,
	}))
	require.NoError(t, env.oracles.Create(ctx, domain.Oracle{
		Address:        testAddr(3),
		Reputation:     80,
		Specialization: []domain.Category{domain.CategoryGeneral},
		Active:         true,
	}))

	selected, err := env.oracleSvc.SelectForMarket(ctx, 1, domain.CategorySports, 3)
	require.NoError(t, err)
	require.Len(t, selected, 3)

	// Direct specialization outranks raw reputation.
	assert.Equal(t, testAddr(1), selected[0].Address)
	assert.Equal(t, testAddr(2), selected[1].Address)
}

func TestSelectForMarketStampsActivity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := byte(1); i <= 3; i++ {
		require.NoError(t, env.oracles.Create(ctx, domain.Oracle{
			Address:        testAddr(i),
			Reputation:     80,
			Specialization: []domain.Category{domain.CategoryGeneral},
			Active:         true,
		}))
	}

	selected, err := env.oracleSvc.SelectForMarket(ctx, 1, domain.CategorySports, 3)
	require.NoError(t, err)
	require.Len(t, selected, 3)

	for _, o := range selected {
		stored, err := env.oracles.GetByAddress(ctx, o.Address)
		require.NoError(t, err)
		assert.False(t, stored.LastActiveAt.IsZero(), "oracle %s", o.Address.Hex())
	}
}

func TestSelectForMarketRaisesCountToQuorum(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for i := byte(1); i <= 4; i++ {
		env.addOracle(t, testAddr(i), 80)
	}

	selected, err := env.oracleSvc.SelectForMarket(ctx, 1, domain.CategoryGeneral, 1)
	require.NoError(t, err)
	assert.Len(t, selected, MinConsensus)
}

func TestSelectForMarketInsufficient(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.addOracle(t, testAddr(1), 80)
	env.addOracle(t, testAddr(2), 80)
	// Below threshold, inactive, and mismatched oracles never qualify.
	env.addOracle(t, testAddr(3), 60)
	require.NoError(t, env.oracles.Create(ctx, domain.Oracle{
		Address:        testAddr(4),
		Reputation:     90,
		Specialization: []domain.Category{domain.CategoryGeneral},
		Active:         false,
	}))
	require.NoError(t, env.oracles.Create(ctx, domain.Oracle{
		Address:        testAddr(5),
		Reputation:     90,
		Specialization: []domain.Category{domain.CategoryWeather},
		Active:         true,
	}))

	_, err := env.oracleSvc.SelectForMarket(ctx, 1, domain.CategorySports, 3)
	require.ErrorIs(t, err, domain.ErrInsufficientOracles)
}

func TestUpdateReputationRecomputes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addOracle(t, testAddr(1), 80)

	require.NoError(t, env.oracleSvc.UpdateReputation(ctx, testAddr(1), true))
	require.NoError(t, env.oracleSvc.UpdateReputation(ctx, testAddr(1), true))
	require.NoError(t, env.oracleSvc.UpdateReputation(ctx, testAddr(1), false))

	o, err := env.oracleSvc.Get(ctx, testAddr(1))
	require.NoError(t, err)
	assert.Equal(t, uint32(3), o.TotalResolutions)
	assert.Equal(t, uint32(2), o.CorrectResolutions)
	assert.Equal(t, uint8(67), o.Reputation)
}

func TestDeactivateRemovesFromSelection(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for i := byte(1); i <= 3; i++ {
		env.addOracle(t, testAddr(i), 80)
	}

	require.NoError(t, env.oracleSvc.Deactivate(ctx, testAddr(1)))

	_, err := env.oracleSvc.SelectForMarket(ctx, 1, domain.CategoryGeneral, 3)
	require.ErrorIs(t, err, domain.ErrInsufficientOracles)
}
