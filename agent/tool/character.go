package tool

import (
	"context"
	"strings"

	contractx "github.com/tanpawarit/voice-persona-agents/agent/contract"
	"github.com/tanpawarit/voice-persona-agents/agent/domain"
)

const (
	ToolSkillCheck      = "skill_check"
	ToolAdjustHealth    = "adjust_health"
	ToolAdjustGold      = "adjust_gold"
	ToolAddInventory    = "add_inventory"
	ToolRemoveInventory = "remove_inventory"
	ToolAddQuest        = "add_quest"
	ToolCompleteQuest   = "complete_quest"
	ToolMoveLocation    = "move_location"
	ToolRecordEvent     = "record_event"
	ToolMeetNPC         = "meet_npc"
	ToolPlayerStatus    = "player_status"
)

type characterView struct {
	Name      string         `json:"name"`
	Health    int            `json:"health"`
	MaxHealth int            `json:"max_health"`
	Condition string         `json:"condition"`
	Gold      int64          `json:"gold"`
	Inventory []string       `json:"inventory"`
	Quests    []domain.Quest `json:"active_quests"`
	NPCs      []domain.NPC   `json:"npcs_met"`
	Location  string         `json:"location"`
	Arc       string         `json:"arc"`
}

func viewCharacter(c *domain.Character) characterView {
	return characterView{
		Name:      c.Name,
		Health:    c.Health,
		MaxHealth: c.MaxHealth,
		Condition: c.Condition(),
		Gold:      c.Gold,
		Inventory: append([]string{}, c.Inventory...),
		Quests:    append([]domain.Quest{}, c.ActiveQuests()...),
		NPCs:      append([]domain.NPC{}, c.NPCs...),
		Location:  c.Location,
		Arc:       string(c.Arc),
	}
}

func (d *Dispatcher) characterTools() []*Def {
	healthLo, healthHi := between(-domain.MaxHealth, domain.MaxHealth)
	goldLo, goldHi := between(-100000, 100000)
	rewardLo, rewardHi := between(0, 100000)
	text := func(name, desc string) Arg {
		return Arg{Name: name, Type: TypeString, Desc: desc, Required: true}
	}

	return []*Def{
		{
			Name: ToolSkillCheck,
			Desc: "Roll a d20 skill check for the player and grade it against the difficulty.",
			Kind: domain.KindCharacter,
			Args: []Arg{
				{Name: "skill", Type: TypeString, Desc: "Skill being tested.", Required: true, Enum: []string{"strength", "agility", "signs"}},
				{Name: "difficulty", Type: TypeString, Desc: "How hard the task is.", Enum: []string{
					string(domain.DifficultyEasy), string(domain.DifficultyNormal), string(domain.DifficultyHard), string(domain.DifficultyVeryHard),
				}},
			},
			Handler: d.skillCheck,
		},
		{
			Name:    ToolAdjustHealth,
			Desc:    "Heal or damage the player. Negative values are damage.",
			Kind:    domain.KindCharacter,
			Mutates: true,
			Args: []Arg{
				{Name: "delta", Type: TypeInteger, Desc: "Health change.", Required: true, Min: healthLo, Max: healthHi},
				text("reason", "What caused the change."),
			},
			Handler: adjustHealth,
		},
		{
			Name:    ToolAdjustGold,
			Desc:    "Give or take crowns. The player cannot spend more than they have.",
			Kind:    domain.KindCharacter,
			Mutates: true,
			Args:    []Arg{{Name: "delta", Type: TypeInteger, Desc: "Crowns gained (positive) or spent (negative).", Required: true, Min: goldLo, Max: goldHi}},
			Handler: adjustGold,
		},
		{
			Name:    ToolAddInventory,
			Desc:    "Put an item in the player's inventory.",
			Kind:    domain.KindCharacter,
			Mutates: true,
			Args:    []Arg{text("item", "Item name.")},
			Handler: addInventory,
		},
		{
			Name:    ToolRemoveInventory,
			Desc:    "Take an item out of the player's inventory.",
			Kind:    domain.KindCharacter,
			Mutates: true,
			Args:    []Arg{text("item", "Item name.")},
			Handler: removeInventory,
		},
		{
			Name:    ToolAddQuest,
			Desc:    "Start a new quest.",
			Kind:    domain.KindCharacter,
			Mutates: true,
			Args:    []Arg{text("name", "Quest name."), text("description", "What the quest asks of the player.")},
			Handler: addQuest,
		},
		{
			Name:    ToolCompleteQuest,
			Desc:    "Complete an active quest and pay its reward.",
			Kind:    domain.KindCharacter,
			Mutates: true,
			Args: []Arg{
				text("name", "Quest name."),
				{Name: "reward_gold", Type: TypeInteger, Desc: "Crowns paid on completion.", Min: rewardLo, Max: rewardHi},
			},
			Handler: completeQuest,
		},
		{
			Name:    ToolMoveLocation,
			Desc:    "Move the player to a new place.",
			Kind:    domain.KindCharacter,
			Mutates: true,
			Args:    []Arg{text("location", "Place name."), text("description", "One sentence describing it.")},
			Handler: moveLocation,
		},
		{
			Name:    ToolRecordEvent,
			Desc:    "Log a story beat. The story arc advances every few beats.",
			Kind:    domain.KindCharacter,
			Mutates: true,
			Args: []Arg{
				text("event", "What happened."),
				{Name: "major", Type: TypeBoolean, Desc: "True for a turning point worth saving."},
			},
			Handler: recordEvent,
		},
		{
			Name:    ToolMeetNPC,
			Desc:    "Record that the player met someone, or update how a known character now feels about them.",
			Kind:    domain.KindCharacter,
			Mutates: true,
			Args: []Arg{
				text("name", "Character name."),
				text("role", "Who they are, e.g. village elder."),
				{Name: "attitude", Type: TypeString, Desc: "How they treat the player.", Enum: []string{
					string(domain.AttitudeFriendly), string(domain.AttitudeNeutral), string(domain.AttitudeHostile),
				}},
			},
			Handler: meetNPC,
		},
		{
			Name:    ToolPlayerStatus,
			Desc:    "Read the player's health, gold, inventory, quests and location.",
			Kind:    domain.KindCharacter,
			Handler: playerStatus,
		},
	}
}

func (d *Dispatcher) skillCheck(_ context.Context, call *Call) (any, contractx.Control, error) {
	difficulty := domain.Difficulty(call.Args.String("difficulty"))
	if difficulty == "" {
		difficulty = domain.DifficultyNormal
	}
	res, err := call.Record.Character.SkillCheck(call.Args.String("skill"), difficulty, d.roll)
	if err != nil {
		return nil, contractx.Control{}, err
	}
	return res, contractx.Control{}, nil
}

// adjustHealth ends the arc when the player falls.
func adjustHealth(_ context.Context, call *Call) (any, contractx.Control, error) {
	c := call.Record.Character
	fallen := c.AdjustHealth(int(call.Args.Int("delta", 0)))
	c.Events = append(c.Events, strings.TrimSpace(call.Args.String("reason")))
	out := map[string]any{"health": c.Health, "condition": c.Condition()}
	if fallen {
		return out, contractx.Control{ArcEnded: true, Checkpoint: true}, nil
	}
	return out, contractx.Control{}, nil
}

func adjustGold(_ context.Context, call *Call) (any, contractx.Control, error) {
	c := call.Record.Character
	if err := c.AdjustGold(call.Args.Int("delta", 0)); err != nil {
		return nil, contractx.Control{}, err
	}
	return map[string]any{"gold": c.Gold}, contractx.Control{}, nil
}

func addInventory(_ context.Context, call *Call) (any, contractx.Control, error) {
	c := call.Record.Character
	c.AddItem(call.Args.String("item"))
	return map[string]any{"inventory": c.Inventory}, contractx.Control{}, nil
}

func removeInventory(_ context.Context, call *Call) (any, contractx.Control, error) {
	c := call.Record.Character
	if err := c.RemoveItem(call.Args.String("item")); err != nil {
		return nil, contractx.Control{}, err
	}
	return map[string]any{"inventory": c.Inventory}, contractx.Control{}, nil
}

func addQuest(_ context.Context, call *Call) (any, contractx.Control, error) {
	c := call.Record.Character
	if err := c.AddQuest(call.Args.String("name"), call.Args.String("description")); err != nil {
		return nil, contractx.Control{}, err
	}
	return map[string]any{"active_quests": c.ActiveQuests()}, contractx.Control{}, nil
}

func completeQuest(_ context.Context, call *Call) (any, contractx.Control, error) {
	c := call.Record.Character
	q, err := c.CompleteQuest(call.Args.String("name"), call.Args.Int("reward_gold", 0))
	if err != nil {
		return nil, contractx.Control{}, err
	}
	return map[string]any{"quest": q, "gold": c.Gold}, contractx.Control{Checkpoint: true}, nil
}

func moveLocation(_ context.Context, call *Call) (any, contractx.Control, error) {
	c := call.Record.Character
	c.Move(call.Args.String("location"), call.Args.String("description"))
	return map[string]any{"location": c.Location, "description": c.LocationDescription}, contractx.Control{}, nil
}

func recordEvent(_ context.Context, call *Call) (any, contractx.Control, error) {
	c := call.Record.Character
	before := c.Arc
	arc := c.RecordEvent(call.Args.String("event"))
	major, _ := call.Args.Bool("major")
	return map[string]any{"arc": string(arc), "beats": c.Beats}, contractx.Control{Checkpoint: major || arc != before}, nil
}

func meetNPC(_ context.Context, call *Call) (any, contractx.Control, error) {
	c := call.Record.Character
	first, err := c.MeetNPC(call.Args.String("name"), call.Args.String("role"), domain.Attitude(call.Args.String("attitude")))
	if err != nil {
		return nil, contractx.Control{}, err
	}
	return map[string]any{"npcs_met": c.NPCs, "first_meeting": first}, contractx.Control{}, nil
}

func playerStatus(_ context.Context, call *Call) (any, contractx.Control, error) {
	return viewCharacter(call.Record.Character), contractx.Control{}, nil
}
