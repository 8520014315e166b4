package service

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traitfusion-api/internal/model"
)

func TestCreateItem(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.CreateItem(h.ctx, alice, alice, nil)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = h.engine.CreateItem(h.ctx, engineID, "", nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	id := h.newItem(alice)
	assert.Equal(t, uint64(1), id)
	assert.Equal(t, uint64(1), h.getUint(id, model.AttrLevel))
	assert.Equal(t, uint64(100), h.getUint(id, model.AttrEnergy))
	assert.Equal(t, uint64(10), h.getUint(id, model.AttrStrength))
	assert.Equal(t, uint64(10), h.getUint(id, model.AttrStamina))

	custom, err := h.engine.CreateItem(h.ctx, engineID, bob, &model.BaseAttributes{Level: 5, Energy: 40, Zone: "sky", ElementAffinity: "air"})
	require.NoError(t, err)
	assert.Equal(t, uint64(5), h.getUint(custom, model.AttrLevel))
	assert.Equal(t, "sky", h.getText(custom, model.AttrZone))

	created := h.events.OfType(model.EventItemCreated)
	require.Len(t, created, 2)
	assert.Equal(t, alice, created[0].Actor)
	assert.Equal(t, id, created[0].ItemID)
}

func TestFight(t *testing.T) {
	h := newHarness(t)
	id := h.newItem(alice)

	res, err := h.engine.Fight(h.ctx, alice, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), res.XPGain)
	assert.Equal(t, uint64(10), res.Experience)
	assert.Equal(t, uint64(80), res.Energy)
	assert.Equal(t, uint64(1), res.Level)
	assert.False(t, res.LeveledUp)

	assert.Equal(t, uint64(80), h.getUint(id, model.AttrEnergy))
	assert.Equal(t, uint64(10), h.getUint(id, model.AttrExperience))
	assert.Equal(t, uint64(10), h.balance(alice))
	assert.Equal(t, t0, h.state(id).LastActionAt)
}

func TestFight_SubSecondClockUsesWholeSeconds(t *testing.T) {
	h := newHarness(t)
	id := h.newItem(alice)

	h.advance(900 * time.Millisecond)
	_, err := h.engine.Fight(h.ctx, alice, id)
	require.NoError(t, err)

	// the stored action time and the published event agree
	assert.Equal(t, t0, h.state(id).LastActionAt)
	performed := h.events.OfType(model.EventActionPerformed)
	require.Len(t, performed, 1)
	assert.Equal(t, t0, performed[0].At)

	h.advance(FightCooldown - 901*time.Millisecond)
	_, err = h.engine.Fight(h.ctx, alice, id)
	assert.ErrorIs(t, err, ErrCooldownActive)

	h.advance(time.Millisecond)
	_, err = h.engine.Fight(h.ctx, alice, id)
	assert.NoError(t, err)
}

func TestFight_CooldownLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t)
	id := h.newItem(alice)

	_, err := h.engine.Fight(h.ctx, alice, id)
	require.NoError(t, err)
	published := len(h.events.Events())

	h.advance(FightCooldown - time.Second)
	_, err = h.engine.Fight(h.ctx, alice, id)
	assert.ErrorIs(t, err, ErrCooldownActive)

	assert.Equal(t, uint64(80), h.getUint(id, model.AttrEnergy))
	assert.Equal(t, uint64(10), h.balance(alice))
	assert.Equal(t, t0, h.state(id).LastActionAt)
	assert.Len(t, h.events.Events(), published)

	h.advance(time.Second)
	_, err = h.engine.Fight(h.ctx, alice, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(60), h.getUint(id, model.AttrEnergy))
}

func TestFight_LevelUp(t *testing.T) {
	h := newHarness(t)
	id := h.newItem(alice)
	h.setUint(id, model.AttrExperience, 95)

	res, err := h.engine.Fight(h.ctx, alice, id)
	require.NoError(t, err)
	assert.True(t, res.LeveledUp)
	assert.Equal(t, uint64(2), h.getUint(id, model.AttrLevel))
	assert.Equal(t, uint64(5), h.getUint(id, model.AttrExperience))
	assert.Equal(t, uint64(15), h.getUint(id, model.AttrStrength))

	// higher levels gain more experience
	h.advance(FightCooldown)
	res, err = h.engine.Fight(h.ctx, alice, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(11), res.XPGain)
}

func TestFight_Rejections(t *testing.T) {
	h := newHarness(t)
	id := h.newItem(alice)

	_, err := h.engine.Fight(h.ctx, bob, id)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = h.engine.Fight(h.ctx, alice, 999)
	assert.ErrorIs(t, err, ErrNotFound)

	h.setUint(id, model.AttrEnergy, FightEnergyCost-1)
	_, err = h.engine.Fight(h.ctx, alice, id)
	assert.ErrorIs(t, err, ErrInsufficientResource)
	assert.Zero(t, h.balance(alice))
	assert.True(t, h.state(id).LastActionAt.IsZero())
}

func TestFight_CommitFailureBurnsReward(t *testing.T) {
	h := newHarness(t)
	id := h.newItem(alice)

	h.store.fail = true
	_, err := h.engine.Fight(h.ctx, alice, id)
	h.store.fail = false

	require.ErrorIs(t, err, errCommit)
	assert.Zero(t, h.balance(alice))
	assert.Equal(t, uint64(100), h.getUint(id, model.AttrEnergy))
}

func TestUsePotion(t *testing.T) {
	h := newHarness(t)
	id := h.newItem(alice)

	_, err := h.engine.UsePotion(h.ctx, alice, id)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.ErrorIs(t, err, ErrInsufficientResource)
	assert.Equal(t, uint64(100), h.getUint(id, model.AttrEnergy))

	h.fund(alice, 15)
	energy, err := h.engine.UsePotion(h.ctx, alice, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(150), energy)

	energy, err = h.engine.UsePotion(h.ctx, alice, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(MaxEnergy), energy)

	energy, err = h.engine.UsePotion(h.ctx, alice, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(MaxEnergy), energy)
	assert.Zero(t, h.balance(alice))
}

func TestUsePotion_CommitFailureRefunds(t *testing.T) {
	h := newHarness(t)
	id := h.newItem(alice)
	h.fund(alice, 5)

	h.store.fail = true
	_, err := h.engine.UsePotion(h.ctx, alice, id)
	h.store.fail = false

	require.ErrorIs(t, err, errCommit)
	assert.Equal(t, uint64(5), h.balance(alice))
}

func TestEnterZone(t *testing.T) {
	h := newHarness(t)
	id := h.newItem(alice)

	affinity, err := h.engine.EnterZone(h.ctx, alice, id, "volcano")
	require.NoError(t, err)
	assert.Equal(t, "fire", affinity)
	assert.Equal(t, "volcano", h.getText(id, model.AttrZone))
	assert.Equal(t, "fire", h.getText(id, model.AttrElementAffinity))

	affinity, err = h.engine.EnterZone(h.ctx, alice, id, "city")
	require.NoError(t, err)
	assert.Empty(t, affinity)
	assert.Equal(t, "city", h.getText(id, model.AttrZone))
	assert.Equal(t, "fire", h.getText(id, model.AttrElementAffinity))

	_, err = h.engine.EnterZone(h.ctx, bob, id, "ocean")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestTierForRoll(t *testing.T) {
	cases := map[uint64]string{0: "common", 49: "common", 50: "rare", 79: "rare", 80: "epic", 94: "epic", 95: "legendary", 99: "legendary"}
	for r, want := range cases {
		assert.Equal(t, want, TierForRoll(r).Name, "roll %d", r)
	}
}

func TestOpenLootBox_Fulfillment(t *testing.T) {
	cases := []struct {
		name     string
		value    int64
		tier     string
		strength uint64
	}{
		{"legendary", 97, "legendary", 60},
		{"rare wraps modulo", 160, "rare", 20},
		{"common", 10, "common", 15},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			id := h.newItem(alice)
			h.fund(alice, DefaultGameConfig().LootBoxCost)

			reqID, err := h.engine.OpenLootBox(h.ctx, alice, id)
			require.NoError(t, err)
			assert.Zero(t, h.balance(alice))
			assert.Equal(t, uint64(10), h.getUint(id, model.AttrStrength))
			require.Len(t, h.events.OfType(model.EventLootRequested), 1)

			require.NoError(t, h.engine.FulfillRandomness(h.ctx, reqID, roll(tc.value)))
			assert.Equal(t, tc.strength, h.getUint(id, model.AttrStrength))
			assert.Equal(t, tc.tier, h.getText(id, model.AttrLootTier))

			revealed := h.events.OfType(model.EventLootRevealed)
			require.Len(t, revealed, 1)
			assert.Equal(t, tc.tier, revealed[0].Fields["tier"])
		})
	}
}

func TestFulfillRandomness_ExactlyOnce(t *testing.T) {
	h := newHarness(t)
	id := h.newItem(alice)
	h.fund(alice, 20)

	reqID, err := h.engine.OpenLootBox(h.ctx, alice, id)
	require.NoError(t, err)

	require.NoError(t, h.engine.FulfillRandomness(h.ctx, reqID, roll(97)))
	require.NoError(t, h.engine.FulfillRandomness(h.ctx, reqID, roll(97)))
	assert.Equal(t, uint64(60), h.getUint(id, model.AttrStrength))

	err = h.engine.DeliverRandomness(h.ctx, reqID, roll(97))
	assert.ErrorIs(t, err, ErrUnknownRequest)
	assert.Len(t, h.events.OfType(model.EventLootRevealed), 1)
}

func TestFulfillRandomness_UnknownIsNoop(t *testing.T) {
	h := newHarness(t)
	id := h.newItem(alice)
	before := len(h.events.Events())

	require.NoError(t, h.engine.FulfillRandomness(h.ctx, "never-issued", roll(97)))
	assert.Equal(t, uint64(10), h.getUint(id, model.AttrStrength))
	assert.Len(t, h.events.Events(), before)

	// unknown ids are ignored whatever the payload
	require.NoError(t, h.engine.FulfillRandomness(h.ctx, "never-issued", nil))
	err := h.engine.DeliverRandomness(h.ctx, "never-issued", nil)
	assert.ErrorIs(t, err, ErrUnknownRequest)
}

func TestFulfillRandomness_MissingValuesKeepRequestPending(t *testing.T) {
	h := newHarness(t)
	id := h.newItem(alice)
	h.fund(alice, 20)
	reqID, err := h.engine.OpenLootBox(h.ctx, alice, id)
	require.NoError(t, err)

	err = h.engine.FulfillRandomness(h.ctx, reqID, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	err = h.engine.FulfillRandomness(h.ctx, reqID, []*big.Int{nil})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	pending, err := h.store.GetPendingRequest(h.ctx, reqID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestPending, pending.Status)

	require.NoError(t, h.engine.FulfillRandomness(h.ctx, reqID, roll(10)))
	assert.Equal(t, uint64(15), h.getUint(id, model.AttrStrength))
}

func TestFulfillRandomness_ConcurrentDeliveriesApplyOnce(t *testing.T) {
	h := newHarness(t)
	id := h.newItem(alice)
	h.fund(alice, 20)
	reqID, err := h.engine.OpenLootBox(h.ctx, alice, id)
	require.NoError(t, err)

	done := make(chan error, 5)
	for i := 0; i < 5; i++ {
		go func() { done <- h.engine.FulfillRandomness(h.ctx, reqID, []*big.Int{big.NewInt(97)}) }()
	}
	for i := 0; i < 5; i++ {
		require.NoError(t, <-done)
	}
	assert.Equal(t, uint64(60), h.getUint(id, model.AttrStrength))
}

func TestOpenLootBox_InsufficientFunds(t *testing.T) {
	h := newHarness(t)
	id := h.newItem(alice)

	_, err := h.engine.OpenLootBox(h.ctx, alice, id)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Empty(t, h.random.ids)
	assert.Empty(t, h.events.OfType(model.EventLootRequested))
}

func TestRecordSteps(t *testing.T) {
	h := newHarness(t)
	id := h.newItem(alice)

	err := h.engine.RecordSteps(h.ctx, alice, id, 20000)
	assert.ErrorIs(t, err, ErrUnauthorized)

	require.NoError(t, h.engine.RecordSteps(h.ctx, oracleID, id, StepsMilestone-1))
	assert.Equal(t, uint64(10+99), h.getUint(id, model.AttrStamina))
	assert.Equal(t, uint64(StepsMilestone-1), h.state(id).DailySteps)
	assert.Zero(t, h.balance(alice))

	require.NoError(t, h.engine.RecordSteps(h.ctx, oracleID, id, StepsMilestone))
	assert.Equal(t, uint64(MaxStamina), h.getUint(id, model.AttrStamina))
	assert.Equal(t, uint64(50), h.balance(alice))

	// no already-rewarded flag: a replayed qualifying count pays again
	require.NoError(t, h.engine.RecordSteps(h.ctx, oracleID, id, StepsMilestone))
	assert.Equal(t, uint64(100), h.balance(alice))
	assert.Zero(t, h.balance(oracleID))
}

func TestRecordGPSZoneAndWeather(t *testing.T) {
	h := newHarness(t)
	id := h.newItem(alice)

	require.NoError(t, h.engine.RecordGPSZone(h.ctx, oracleID, id, "gym"))
	assert.Equal(t, "strength_bonus", h.getText(id, model.AttrGPSBonus))
	require.NoError(t, h.engine.RecordGPSZone(h.ctx, oracleID, id, "mall"))
	assert.Equal(t, GPSBonusNone, h.getText(id, model.AttrGPSBonus))

	require.NoError(t, h.engine.RecordWeather(h.ctx, oracleID, id, "snowy"))
	assert.Equal(t, "ice", h.getText(id, model.AttrWeatherAffinity))
	require.NoError(t, h.engine.RecordWeather(h.ctx, oracleID, id, "foggy"))
	assert.Equal(t, "ice", h.getText(id, model.AttrWeatherAffinity))

	assert.ErrorIs(t, h.engine.RecordWeather(h.ctx, bridgeID, id, "sunny"), ErrUnauthorized)
}

func TestQuests(t *testing.T) {
	h := newHarness(t)
	id := h.newItem(alice)

	_, err := h.engine.CompleteQuest(h.ctx, alice, id)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, h.engine.StartQuest(h.ctx, alice, id, ""), ErrInvalidArgument)
	require.NoError(t, h.engine.StartQuest(h.ctx, alice, id, "dragon"))
	assert.Equal(t, "dragon", h.state(id).QuestID)
	assert.ErrorIs(t, h.engine.StartQuest(h.ctx, alice, id, "goblin"), ErrInvalidArgument)
	assert.ErrorIs(t, h.engine.StartQuest(h.ctx, bob, id, "goblin"), ErrUnauthorized)

	quest, err := h.engine.CompleteQuest(h.ctx, alice, id)
	require.NoError(t, err)
	assert.Equal(t, "dragon", quest)
	assert.Empty(t, h.state(id).QuestID)
	assert.Equal(t, uint64(25), h.balance(alice))

	completed := h.events.OfType(model.EventQuestCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, "dragon", completed[0].Fields["quest_id"])
}
