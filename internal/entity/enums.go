package entity

// Game tags. Values are the integer keys used on the wire by both replay encodings.
const (
	TagPremium                   = 12
	TagPlayState                 = 17
	TagStep                      = 19
	TagTurn                      = 20
	TagCurrentPlayer             = 23
	TagFirstPlayer               = 24
	TagResourcesUsed             = 25
	TagResources                 = 26
	TagHeroEntity                = 27
	TagPlayerID                  = 30
	TagProposedAttacker          = 36
	TagProposedDefender          = 37
	TagAttacking                 = 38
	TagDefending                 = 39
	TagExhausted                 = 43
	TagDamage                    = 44
	TagHealth                    = 45
	TagAtk                       = 47
	TagCost                      = 48
	TagZone                      = 49
	TagController                = 50
	TagOwner                     = 51
	TagEntityID                  = 53
	TagDurability                = 187
	TagSilenced                  = 188
	TagWindfury                  = 189
	TagTaunt                     = 190
	TagStealth                   = 191
	TagDivineShield              = 194
	TagCharge                    = 197
	TagNextStep                  = 198
	TagClass                     = 199
	TagCardRace                  = 200
	TagCardType                  = 202
	TagRarity                    = 203
	TagState                     = 204
	TagEnraged                   = 212
	TagImmune                    = 240
	TagFrozen                    = 260
	TagZonePosition              = 263
	TagNumTurnsInPlay            = 271
	TagArmor                     = 292
	TagMulliganState             = 305
	TagCantBeTargetedByAbilities = 311
	TagRevealed                  = 410
	TagUntouchable               = 448
	TagAutoAttack                = 450
	TagShifting                  = 1146
	TagShiftingMinion            = 1154
	TagShiftingWeapon            = 1155
)

// Zones.
const (
	ZoneInvalid         = 0
	ZonePlay            = 1
	ZoneDeck            = 2
	ZoneHand            = 3
	ZoneGraveyard       = 4
	ZoneRemovedFromGame = 5
	ZoneSetAside        = 6
	ZoneSecret          = 7
)

// Game steps, stored on the game entity under TagStep.
const (
	StepInvalid           = 0
	StepBeginFirst        = 1
	StepBeginShuffle      = 2
	StepBeginDraw         = 3
	StepBeginMulligan     = 4
	StepMainBegin         = 5
	StepMainReady         = 6
	StepMainResource      = 7
	StepMainDraw          = 8
	StepMainStart         = 9
	StepMainAction        = 10
	StepMainCombat        = 11
	StepMainEnd           = 12
	StepMainNext          = 13
	StepFinalWrapup       = 14
	StepFinalGameover     = 15
	StepMainCleanup       = 16
	StepMainStartTriggers = 17
)

// Player states, stored on player entities under TagPlayState.
const (
	PlayStateInvalid      = 0
	PlayStatePlaying      = 1
	PlayStateWinning      = 2
	PlayStateLosing       = 3
	PlayStateWon          = 4
	PlayStateLost         = 5
	PlayStateTied         = 6
	PlayStateDisconnected = 7
	PlayStateConceded     = 8
)

// Mulligan states, stored on player entities under TagMulliganState.
const (
	MulliganStateInvalid = 0
	MulliganStateInput   = 1
	MulliganStateDealing = 2
	MulliganStateWaiting = 3
	MulliganStateDone    = 4
)

// Card types, stored under TagCardType.
const (
	CardTypeInvalid     = 0
	CardTypeGame        = 1
	CardTypePlayer      = 2
	CardTypeHero        = 3
	CardTypeMinion      = 4
	CardTypeSpell       = 5
	CardTypeEnchantment = 6
	CardTypeWeapon      = 7
	CardTypeItem        = 8
	CardTypeToken       = 9
	CardTypeHeroPower   = 10
)

// Rarities, stored under TagRarity.
const (
	RarityInvalid   = 0
	RarityCommon    = 1
	RarityFree      = 2
	RarityRare      = 3
	RarityEpic      = 4
	RarityLegendary = 5
)

// BlockType identifies the kind of nested action a descriptor represents.
type BlockType int

const (
	BlockInvalid    BlockType = 0
	BlockAttack     BlockType = 1
	BlockJoust      BlockType = 2
	BlockPower      BlockType = 3
	BlockTrigger    BlockType = 5
	BlockDeaths     BlockType = 6
	BlockPlay       BlockType = 7
	BlockFatigue    BlockType = 8
	BlockRitual     BlockType = 9
	BlockRevealCard BlockType = 10
	BlockGameReset  BlockType = 11
)

func (b BlockType) String() string {
	switch b {
	case BlockAttack:
		return "attack"
	case BlockJoust:
		return "joust"
	case BlockPower:
		return "power"
	case BlockTrigger:
		return "trigger"
	case BlockDeaths:
		return "deaths"
	case BlockPlay:
		return "play"
	case BlockFatigue:
		return "fatigue"
	case BlockRitual:
		return "ritual"
	case BlockRevealCard:
		return "reveal_card"
	case BlockGameReset:
		return "game_reset"
	default:
		return "invalid"
	}
}

// MetaDataType classifies auxiliary facts attached to an open block.
type MetaDataType int

const (
	MetaTarget         MetaDataType = 0
	MetaDamage         MetaDataType = 1
	MetaHealing        MetaDataType = 2
	MetaJoust          MetaDataType = 3
	MetaCleverDisguise MetaDataType = 4
	MetaShowBigCard    MetaDataType = 5
	MetaEffectTiming   MetaDataType = 6
)

// ChoiceType discriminates mulligan selections from general (discover style) ones.
type ChoiceType int

const (
	ChoiceInvalid  ChoiceType = 0
	ChoiceMulligan ChoiceType = 1
	ChoiceGeneral  ChoiceType = 2
)

// Option types.
const (
	OptionPass    = 1
	OptionEndTurn = 2
	OptionPower   = 3
)

// GameEntityID is the id the game entity is announced under.
const GameEntityID = 1

// CoinCardID is the card the second player receives before the mulligan.
const CoinCardID = "GAME_005"
