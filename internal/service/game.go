package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strconv"
	"time"

	"traitfusion-api/internal/model"
	"traitfusion-api/internal/repository"
)

// Game rule constants.
const (
	FightEnergyCost   = 20
	FightCooldown     = time.Hour
	XPPerLevel        = 100
	LevelUpStrength   = 5
	PotionEnergy      = 50
	MaxEnergy         = 200
	MaxStamina        = 200
	StepsPerStamina   = 100
	StepsMilestone    = 10000
	GPSBonusNone      = "none"
	lootRollModulus   = 100
	fightBaseXPGain   = 10
	fightLevelXPRatio = 2
)

var zoneAffinity = map[string]string{
	"volcano": "fire",
	"ocean":   "water",
	"forest":  "earth",
	"sky":     "air",
}

var gpsBonus = map[string]string{
	"park":     "nature_bonus",
	"gym":      "strength_bonus",
	"beach":    "water_bonus",
	"mountain": "stamina_bonus",
}

var weatherAffinity = map[string]string{
	"sunny": "fire",
	"rainy": "water",
	"snowy": "ice",
	"windy": "air",
}

// LootTier is one row of the loot table.
type LootTier struct {
	MinRoll  uint64
	Name     string
	Strength uint64
}

// LootTable is ordered from the highest threshold down.
var LootTable = []LootTier{
	{MinRoll: 95, Name: "legendary", Strength: 50},
	{MinRoll: 80, Name: "epic", Strength: 25},
	{MinRoll: 50, Name: "rare", Strength: 10},
	{MinRoll: 0, Name: "common", Strength: 5},
}

// TierForRoll returns the loot tier of a roll in [0,100).
func TierForRoll(roll uint64) LootTier {
	for _, tier := range LootTable {
		if roll >= tier.MinRoll {
			return tier
		}
	}
	return LootTable[len(LootTable)-1]
}

// GameConfig holds the economic tuning of a game collection.
type GameConfig struct {
	Collection           string
	FightReward          uint64
	PotionCost           uint64
	LootBoxCost          uint64
	StepsMilestoneReward uint64
	QuestReward          uint64
}

// DefaultGameConfig returns the default tuning.
func DefaultGameConfig() GameConfig {
	return GameConfig{
		Collection:           "traitfusion",
		FightReward:          10,
		PotionCost:           5,
		LootBoxCost:          20,
		StepsMilestoneReward: 50,
		QuestReward:          25,
	}
}

// EngineDeps holds the dependencies of an Engine.
type EngineDeps struct {
	// Identity is the engine's own identity. It must hold RoleEngine.
	Identity   string
	Config     GameConfig
	Attributes *AttributeStore
	Store      repository.Reader
	Registry   Registry
	Minter     Minter
	Ledger     Ledger
	Randomness RandomnessSource
	Roles      *Roles
	Clock      Clock
}

// Engine implements the game rules on top of the attribute store.
type Engine struct {
	identity   string
	cfg        GameConfig
	attrs      *AttributeStore
	store      repository.Reader
	registry   Registry
	minter     Minter
	ledger     Ledger
	randomness RandomnessSource
	roles      *Roles
	now        Clock
}

// NewEngine creates a game engine and registers the game schema.
func NewEngine(deps EngineDeps) *Engine {
	if deps.Config.Collection == "" {
		deps.Config.Collection = DefaultGameConfig().Collection
	}
	if deps.Roles == nil {
		deps.Roles = NewRoles()
	}
	if deps.Clock == nil {
		deps.Clock = systemClock
	}
	deps.Attributes.RegisterSchema(model.GameSchema(deps.Config.Collection))

	return &Engine{
		identity:   deps.Identity,
		cfg:        deps.Config,
		attrs:      deps.Attributes,
		store:      deps.Store,
		registry:   deps.Registry,
		minter:     deps.Minter,
		ledger:     deps.Ledger,
		randomness: deps.Randomness,
		roles:      deps.Roles,
		now:        deps.Clock,
	}
}

// Collection returns the collection the engine plays on.
func (e *Engine) Collection() string {
	return e.cfg.Collection
}

// Config returns the game tuning.
func (e *Engine) Config() GameConfig {
	return e.cfg
}

// FightResult is the outcome of a fight.
type FightResult struct {
	ItemID     uint64 `json:"item_id"`
	Energy     uint64 `json:"energy"`
	Experience uint64 `json:"experience"`
	XPGain     uint64 `json:"xp_gain"`
	Level      uint64 `json:"level"`
	Strength   uint64 `json:"strength"`
	LeveledUp  bool   `json:"leveled_up"`
	Reward     uint64 `json:"reward"`
}

// updateItem runs fn as a unit of work under the engine identity.
func (e *Engine) updateItem(ctx context.Context, itemID uint64, fn func(u *UnitOfWork) error) error {
	return e.attrs.Update(ctx, e.identity, e.cfg.Collection, itemID, fn)
}

func (e *Engine) requireOwner(ctx context.Context, caller string, itemID uint64) error {
	owner, err := e.registry.OwnerOf(ctx, itemID)
	if err != nil {
		return fmt.Errorf("failed to look up owner of item %d: %w", itemID, err)
	}
	if owner != caller {
		return fmt.Errorf("%w: %q does not own item %d", ErrUnauthorized, caller, itemID)
	}
	return nil
}

func (e *Engine) actionState(u *UnitOfWork) (model.ActionState, error) {
	state, err := e.store.GetActionState(u.Context(), u.Collection(), u.ItemID())
	if err != nil {
		return model.ActionState{}, fmt.Errorf("failed to load action state: %w", err)
	}
	state.Collection = u.Collection()
	state.ItemID = u.ItemID()
	return state, nil
}

func stageActionState(u *UnitOfWork, state model.ActionState) {
	u.Stage(func(ctx context.Context, tx repository.Tx) error {
		return tx.PutActionState(ctx, state)
	})
}

// mint credits account and registers the matching burn as compensation.
func (e *Engine) mint(u *UnitOfWork, account string, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if err := e.ledger.Mint(u.Context(), account, amount); err != nil {
		return fmt.Errorf("failed to mint reward: %w", err)
	}
	u.OnRollback(func(ctx context.Context) error {
		return e.ledger.Burn(ctx, account, amount)
	})
	return nil
}

// charge checks the balance, burns amount and registers a refund as compensation.
func (e *Engine) charge(u *UnitOfWork, account string, amount uint64) error {
	if amount == 0 {
		return nil
	}
	balance, err := e.ledger.BalanceOf(u.Context(), account)
	if err != nil {
		return fmt.Errorf("failed to read balance: %w", err)
	}
	if balance < amount {
		return fmt.Errorf("%w: balance %d, need %d", ErrInsufficientFunds, balance, amount)
	}
	if err := e.ledger.Burn(u.Context(), account, amount); err != nil {
		return fmt.Errorf("failed to burn cost: %w", err)
	}
	u.OnRollback(func(ctx context.Context) error {
		return e.ledger.Mint(ctx, account, amount)
	})
	return nil
}

// CreateItem mints a new item for owner and writes its base attributes.
// A nil base uses DefaultBaseAttributes.
func (e *Engine) CreateItem(ctx context.Context, caller, owner string, base *model.BaseAttributes) (uint64, error) {
	if err := e.roles.Require(RoleEngine, caller); err != nil {
		return 0, err
	}
	if owner == "" {
		return 0, fmt.Errorf("%w: owner is required", ErrInvalidArgument)
	}
	if e.minter == nil {
		return 0, errors.New("item minting is not configured")
	}
	attrs := model.DefaultBaseAttributes()
	if base != nil {
		attrs = *base
	}

	itemID, err := e.minter.MintItem(ctx, owner)
	if err != nil {
		return 0, fmt.Errorf("failed to mint item: %w", err)
	}

	err = e.updateItem(ctx, itemID, func(u *UnitOfWork) error {
		uints := []struct {
			name  model.AttributeName
			value uint64
		}{
			{model.AttrLevel, attrs.Level},
			{model.AttrEnergy, attrs.Energy},
			{model.AttrStrength, attrs.Strength},
			{model.AttrStamina, attrs.Stamina},
		}
		for _, a := range uints {
			if err := u.SetUint(a.name, a.value); err != nil {
				return err
			}
		}
		if err := u.SetText(model.AttrZone, attrs.Zone); err != nil {
			return err
		}
		if err := u.SetText(model.AttrElementAffinity, attrs.ElementAffinity); err != nil {
			return err
		}
		u.Emit(model.Event{Type: model.EventItemCreated, Actor: owner})
		return nil
	})
	if err != nil {
		log.Printf("[GameEngine] Item %d minted for %s but base attributes failed: %v", itemID, owner, err)
		return 0, fmt.Errorf("failed to initialize item %d: %w", itemID, err)
	}

	log.Printf("[GameEngine] Created item %d for %s", itemID, owner)
	return itemID, nil
}

// Fight spends energy for experience and may level the item up.
func (e *Engine) Fight(ctx context.Context, caller string, itemID uint64) (*FightResult, error) {
	var result *FightResult

	err := e.updateItem(ctx, itemID, func(u *UnitOfWork) error {
		if err := e.requireOwner(u.Context(), caller, itemID); err != nil {
			return err
		}

		state, err := e.actionState(u)
		if err != nil {
			return err
		}
		if !state.LastActionAt.IsZero() && u.Now().Before(state.LastActionAt.Add(FightCooldown)) {
			return fmt.Errorf("%w: next fight at %s", ErrCooldownActive, state.LastActionAt.Add(FightCooldown).Format(time.RFC3339))
		}

		energy, err := u.GetUint(model.AttrEnergy)
		if err != nil {
			return err
		}
		if energy < FightEnergyCost {
			return fmt.Errorf("%w: energy %d, need %d", ErrInsufficientResource, energy, FightEnergyCost)
		}
		level, err := u.GetUint(model.AttrLevel)
		if err != nil {
			return err
		}
		experience, err := u.GetUint(model.AttrExperience)
		if err != nil {
			return err
		}
		strength, err := u.GetUint(model.AttrStrength)
		if err != nil {
			return err
		}

		gain := fightBaseXPGain + level/fightLevelXPRatio
		experience += gain
		newLevel := level + experience/XPPerLevel
		experience %= XPPerLevel
		energy -= FightEnergyCost

		if err := u.SetUint(model.AttrEnergy, energy); err != nil {
			return err
		}
		if err := u.SetUint(model.AttrExperience, experience); err != nil {
			return err
		}
		if newLevel > level {
			strength += LevelUpStrength
			if err := u.SetUint(model.AttrLevel, newLevel); err != nil {
				return err
			}
			if err := u.SetUint(model.AttrStrength, strength); err != nil {
				return err
			}
		}

		state.LastActionAt = u.Now()
		stageActionState(u, state)

		if err := e.mint(u, caller, e.cfg.FightReward); err != nil {
			return err
		}

		result = &FightResult{
			ItemID:     itemID,
			Energy:     energy,
			Experience: experience,
			XPGain:     gain,
			Level:      newLevel,
			Strength:   strength,
			LeveledUp:  newLevel > level,
			Reward:     e.cfg.FightReward,
		}
		u.Emit(model.Event{
			Type:  model.EventActionPerformed,
			Actor: caller,
			Fields: map[string]string{
				"action":  "fight",
				"xp_gain": strconv.FormatUint(gain, 10),
				"level":   strconv.FormatUint(newLevel, 10),
			},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UsePotion burns PotionCost and restores energy up to MaxEnergy.
func (e *Engine) UsePotion(ctx context.Context, caller string, itemID uint64) (uint64, error) {
	var energy uint64

	err := e.updateItem(ctx, itemID, func(u *UnitOfWork) error {
		if err := e.requireOwner(u.Context(), caller, itemID); err != nil {
			return err
		}

		current, err := u.GetUint(model.AttrEnergy)
		if err != nil {
			return err
		}
		if err := e.charge(u, caller, e.cfg.PotionCost); err != nil {
			return err
		}

		energy = min(current+PotionEnergy, MaxEnergy)
		if err := u.SetUint(model.AttrEnergy, energy); err != nil {
			return err
		}
		u.Emit(model.Event{
			Type:   model.EventActionPerformed,
			Actor:  caller,
			Fields: map[string]string{"action": "potion", "energy": strconv.FormatUint(energy, 10)},
		})
		return nil
	})
	if err != nil {
		return 0, err
	}
	return energy, nil
}

// EnterZone moves the item to zone. Recognized zones also set the element
// affinity. The returned affinity is empty for other zones.
func (e *Engine) EnterZone(ctx context.Context, caller string, itemID uint64, zone string) (string, error) {
	affinity := zoneAffinity[zone]

	err := e.updateItem(ctx, itemID, func(u *UnitOfWork) error {
		if err := e.requireOwner(u.Context(), caller, itemID); err != nil {
			return err
		}
		if err := u.SetText(model.AttrZone, zone); err != nil {
			return err
		}
		if affinity != "" {
			if err := u.SetText(model.AttrElementAffinity, affinity); err != nil {
				return err
			}
		}
		u.Emit(model.Event{
			Type:   model.EventActionPerformed,
			Actor:  caller,
			Fields: map[string]string{"action": "zone", "zone": zone},
		})
		return nil
	})
	if err != nil {
		return "", err
	}
	return affinity, nil
}

// OpenLootBox burns LootBoxCost and requests randomness. Attributes change
// only when the randomness arrives.
func (e *Engine) OpenLootBox(ctx context.Context, caller string, itemID uint64) (string, error) {
	var requestID string

	err := e.updateItem(ctx, itemID, func(u *UnitOfWork) error {
		if err := e.requireOwner(u.Context(), caller, itemID); err != nil {
			return err
		}
		if err := e.charge(u, caller, e.cfg.LootBoxCost); err != nil {
			return err
		}

		id, err := e.randomness.RequestRandom(u.Context())
		if err != nil {
			return fmt.Errorf("failed to request randomness: %w", err)
		}
		if id == "" {
			return errors.New("randomness source returned an empty request id")
		}
		requestID = id

		req := model.PendingRequest{
			RequestID:  id,
			Kind:       model.RequestRandomness,
			Collection: u.Collection(),
			ItemID:     itemID,
			Status:     model.RequestPending,
			CreatedAt:  u.Now(),
		}
		u.Stage(func(ctx context.Context, tx repository.Tx) error {
			return tx.InsertPendingRequest(ctx, req)
		})
		u.Emit(model.Event{
			Type:   model.EventLootRequested,
			Actor:  caller,
			Fields: map[string]string{"request_id": id},
		})
		return nil
	})
	if err != nil {
		return "", err
	}
	return requestID, nil
}

// takeRequest stages the exactly-once consumption of a pending request.
// If another fulfillment won the race the unit of work aborts with errAborted.
func takeRequest(u *UnitOfWork, requestID string) {
	u.Stage(func(ctx context.Context, tx repository.Tx) error {
		ok, err := tx.TakePendingRequest(ctx, requestID)
		if err != nil {
			return fmt.Errorf("failed to consume request %s: %w", requestID, err)
		}
		if !ok {
			return errAborted
		}
		return nil
	})
}

// pendingRequest returns the request if it is still pending and of kind.
func pendingRequest(ctx context.Context, store repository.Reader, requestID string, kind model.RequestKind) (*model.PendingRequest, error) {
	req, err := store.GetPendingRequest(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up request %s: %w", requestID, err)
	}
	if req == nil || req.Status != model.RequestPending || req.Kind != kind {
		return nil, nil
	}
	return req, nil
}

// FulfillRandomness applies the loot roll of a pending loot-box request.
// Unknown, consumed or expired ids are ignored.
func (e *Engine) FulfillRandomness(ctx context.Context, requestID string, values []*big.Int) error {
	err := e.DeliverRandomness(ctx, requestID, values)
	if errors.Is(err, ErrUnknownRequest) {
		log.Printf("[GameEngine] Ignoring randomness: %v", err)
		return nil
	}
	return err
}

// DeliverRandomness is FulfillRandomness for transports that want to know
// about unknown ids: it returns ErrUnknownRequest instead of ignoring them.
func (e *Engine) DeliverRandomness(ctx context.Context, requestID string, values []*big.Int) error {
	req, err := pendingRequest(ctx, e.store, requestID, model.RequestRandomness)
	if err != nil {
		return err
	}
	if req == nil || req.Collection != e.cfg.Collection {
		return fmt.Errorf("%w: randomness request %s", ErrUnknownRequest, requestID)
	}
	// a live request with no values stays pending for a proper delivery
	if len(values) == 0 || values[0] == nil {
		return fmt.Errorf("%w: at least one random value is required", ErrInvalidArgument)
	}

	roll := new(big.Int).Mod(values[0], big.NewInt(lootRollModulus)).Uint64()
	tier := TierForRoll(roll)

	err = e.updateItem(ctx, req.ItemID, func(u *UnitOfWork) error {
		takeRequest(u, requestID)

		strength, err := u.GetUint(model.AttrStrength)
		if err != nil {
			return err
		}
		if err := u.SetUint(model.AttrStrength, strength+tier.Strength); err != nil {
			return err
		}
		if err := u.SetText(model.AttrLootTier, tier.Name); err != nil {
			return err
		}
		u.Emit(model.Event{
			Type: model.EventLootRevealed,
			Fields: map[string]string{
				"request_id": requestID,
				"roll":       strconv.FormatUint(roll, 10),
				"tier":       tier.Name,
			},
		})
		return nil
	})
	if errors.Is(err, errAborted) {
		return fmt.Errorf("%w: randomness request %s already consumed", ErrUnknownRequest, requestID)
	}
	if err != nil {
		return err
	}

	log.Printf("[GameEngine] Item %d rolled %d: %s (+%d strength)", req.ItemID, roll, tier.Name, tier.Strength)
	return nil
}

// RecordSteps applies a daily step count reported by the oracle.
func (e *Engine) RecordSteps(ctx context.Context, caller string, itemID uint64, steps uint64) error {
	if err := e.roles.Require(RoleOracle, caller); err != nil {
		return err
	}
	return e.updateItem(ctx, itemID, func(u *UnitOfWork) error {
		return e.applySteps(u, steps)
	})
}

// RecordGPSZone applies a GPS zone reported by the oracle.
func (e *Engine) RecordGPSZone(ctx context.Context, caller string, itemID uint64, zone string) error {
	if err := e.roles.Require(RoleOracle, caller); err != nil {
		return err
	}
	return e.updateItem(ctx, itemID, func(u *UnitOfWork) error {
		return e.applyGPSZone(u, zone)
	})
}

// RecordWeather applies a weather condition reported by the oracle.
func (e *Engine) RecordWeather(ctx context.Context, caller string, itemID uint64, weather string) error {
	if err := e.roles.Require(RoleOracle, caller); err != nil {
		return err
	}
	return e.updateItem(ctx, itemID, func(u *UnitOfWork) error {
		return e.applyWeather(u, weather)
	})
}

// applySteps has no "already rewarded" flag: replaying a qualifying count
// mints the milestone reward again.
func (e *Engine) applySteps(u *UnitOfWork, steps uint64) error {
	state, err := e.actionState(u)
	if err != nil {
		return err
	}
	state.DailySteps = steps
	stageActionState(u, state)

	stamina, err := u.GetUint(model.AttrStamina)
	if err != nil {
		return err
	}
	stamina = min(stamina+steps/StepsPerStamina, MaxStamina)
	if err := u.SetUint(model.AttrStamina, stamina); err != nil {
		return err
	}

	fields := map[string]string{"action": "steps", "steps": strconv.FormatUint(steps, 10)}
	if steps >= StepsMilestone {
		owner, err := e.registry.OwnerOf(u.Context(), u.ItemID())
		if err != nil {
			return fmt.Errorf("failed to look up owner of item %d: %w", u.ItemID(), err)
		}
		if err := e.mint(u, owner, e.cfg.StepsMilestoneReward); err != nil {
			return err
		}
		fields["milestone_reward"] = strconv.FormatUint(e.cfg.StepsMilestoneReward, 10)
	}
	u.Emit(model.Event{Type: model.EventActionPerformed, Actor: u.Caller(), Fields: fields})
	return nil
}

func (e *Engine) applyGPSZone(u *UnitOfWork, zone string) error {
	bonus, ok := gpsBonus[zone]
	if !ok {
		bonus = GPSBonusNone
	}
	if err := u.SetText(model.AttrGPSBonus, bonus); err != nil {
		return err
	}
	u.Emit(model.Event{
		Type:   model.EventActionPerformed,
		Actor:  u.Caller(),
		Fields: map[string]string{"action": "gps", "zone": zone, "bonus": bonus},
	})
	return nil
}

func (e *Engine) applyWeather(u *UnitOfWork, weather string) error {
	affinity, ok := weatherAffinity[weather]
	if ok {
		if err := u.SetText(model.AttrWeatherAffinity, affinity); err != nil {
			return err
		}
	}
	u.Emit(model.Event{
		Type:   model.EventActionPerformed,
		Actor:  u.Caller(),
		Fields: map[string]string{"action": "weather", "weather": weather, "affinity": affinity},
	})
	return nil
}

// StartQuest sets the active quest of an item.
func (e *Engine) StartQuest(ctx context.Context, caller string, itemID uint64, questID string) error {
	if questID == "" {
		return fmt.Errorf("%w: quest id is required", ErrInvalidArgument)
	}
	return e.updateItem(ctx, itemID, func(u *UnitOfWork) error {
		if err := e.requireOwner(u.Context(), caller, itemID); err != nil {
			return err
		}
		state, err := e.actionState(u)
		if err != nil {
			return err
		}
		if state.QuestID != "" {
			return fmt.Errorf("%w: quest %q already active", ErrInvalidArgument, state.QuestID)
		}
		state.QuestID = questID
		stageActionState(u, state)
		u.Emit(model.Event{
			Type:   model.EventActionPerformed,
			Actor:  caller,
			Fields: map[string]string{"action": "quest_start", "quest_id": questID},
		})
		return nil
	})
}

// CompleteQuest clears the active quest and rewards the owner.
func (e *Engine) CompleteQuest(ctx context.Context, caller string, itemID uint64) (string, error) {
	var questID string

	err := e.updateItem(ctx, itemID, func(u *UnitOfWork) error {
		if err := e.requireOwner(u.Context(), caller, itemID); err != nil {
			return err
		}
		state, err := e.actionState(u)
		if err != nil {
			return err
		}
		if state.QuestID == "" {
			return fmt.Errorf("%w: no active quest", ErrNotFound)
		}
		questID = state.QuestID
		state.QuestID = ""
		stageActionState(u, state)

		if err := e.mint(u, caller, e.cfg.QuestReward); err != nil {
			return err
		}
		u.Emit(model.Event{
			Type:   model.EventQuestCompleted,
			Actor:  caller,
			Fields: map[string]string{"quest_id": questID, "reward": strconv.FormatUint(e.cfg.QuestReward, 10)},
		})
		return nil
	})
	if err != nil {
		return "", err
	}
	return questID, nil
}

// ActionState returns the engine state of an item.
func (e *Engine) ActionState(ctx context.Context, itemID uint64) (model.ActionState, error) {
	unlock := e.attrs.Locker().RLock(ctx, e.cfg.Collection, itemID)
	defer unlock()

	state, err := e.store.GetActionState(ctx, e.cfg.Collection, itemID)
	if err != nil {
		return model.ActionState{}, fmt.Errorf("failed to load action state: %w", err)
	}
	state.Collection = e.cfg.Collection
	state.ItemID = itemID
	return state, nil
}
