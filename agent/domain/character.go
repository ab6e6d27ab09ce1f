package domain

import (
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/voice-persona-agents/agent/contract"
)

const (
	MaxHealth = 100
	dieSides  = 20
)

type Difficulty string

const (
	DifficultyEasy     Difficulty = "easy"
	DifficultyNormal   Difficulty = "normal"
	DifficultyHard     Difficulty = "hard"
	DifficultyVeryHard Difficulty = "very_hard"
)

var difficultyClass = map[Difficulty]int{
	DifficultyEasy:     8,
	DifficultyNormal:   12,
	DifficultyHard:     15,
	DifficultyVeryHard: 18,
}

func (d Difficulty) Class() (int, bool) {
	dc, ok := difficultyClass[d]
	return dc, ok
}

type Outcome string

const (
	OutcomeCriticalSuccess Outcome = "critical-success"
	OutcomeSuccess         Outcome = "success"
	OutcomeFailure         Outcome = "failure"
	OutcomeCriticalFailure Outcome = "critical-failure"
)

type ArcStage string

const (
	ArcBeginning  ArcStage = "beginning"
	ArcRising     ArcStage = "rising"
	ArcClimax     ArcStage = "climax"
	ArcResolution ArcStage = "resolution"
)

type Stats struct {
	Strength int `json:"strength"`
	Agility  int `json:"agility"`
	Signs    int `json:"signs"`
}

type QuestStatus string

const (
	QuestActive    QuestStatus = "active"
	QuestCompleted QuestStatus = "completed"
)

type Quest struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Status      QuestStatus `json:"status"`
	Reward      int64       `json:"reward,omitempty"`
}

type Attitude string

const (
	AttitudeFriendly Attitude = "friendly"
	AttitudeNeutral  Attitude = "neutral"
	AttitudeHostile  Attitude = "hostile"
)

func (a Attitude) Valid() bool {
	switch a {
	case AttitudeFriendly, AttitudeNeutral, AttitudeHostile:
		return true
	}
	return false
}

// NPC is a character the player has met. Names are unique, case-insensitively.
type NPC struct {
	Name     string   `json:"name"`
	Role     string   `json:"role"`
	Attitude Attitude `json:"attitude"`
}

type Character struct {
	Name                string   `json:"name"`
	Health              int      `json:"health"`
	MaxHealth           int      `json:"max_health"`
	Stats               Stats    `json:"stats"`
	Inventory           []string `json:"inventory,omitempty"`
	Gold                int64    `json:"gold"`
	Quests              []Quest  `json:"quests,omitempty"`
	Location            string   `json:"location"`
	LocationDescription string   `json:"location_description,omitempty"`
	NPCs                []NPC    `json:"npcs_met,omitempty"`
	Events              []string `json:"events,omitempty"`
	Beats               int      `json:"beats"`
	Arc                 ArcStage `json:"arc"`
}

type CheckResult struct {
	Skill    string  `json:"skill"`
	Roll     int     `json:"roll"`
	Modifier int     `json:"modifier"`
	Total    int     `json:"total"`
	DC       int     `json:"dc"`
	Outcome  Outcome `json:"outcome"`
}

func NewCharacter() *Character {
	return &Character{
		Name:      "Witcher",
		Health:    MaxHealth,
		MaxHealth: MaxHealth,
		Stats:     Stats{Strength: 15, Agility: 14, Signs: 12},
		Inventory: []string{"Steel Sword", "Silver Sword", "2 Swallow Potions"},
		Gold:      50,
		Location:  "Crossroads Inn",
		Arc:       ArcBeginning,
	}
}

func (c *Character) Clone() *Character {
	if c == nil {
		return nil
	}
	out := *c
	out.Inventory = append([]string(nil), c.Inventory...)
	out.Quests = append([]Quest(nil), c.Quests...)
	out.NPCs = append([]NPC(nil), c.NPCs...)
	out.Events = append([]string(nil), c.Events...)
	return &out
}

func (c *Character) Validate() error {
	if c.MaxHealth <= 0 || c.MaxHealth > MaxHealth {
		return fmt.Errorf("%w: max health %d out of range", contractx.ErrValidation, c.MaxHealth)
	}
	if c.Health < 0 || c.Health > c.MaxHealth {
		return fmt.Errorf("%w: health %d out of range", contractx.ErrValidation, c.Health)
	}
	if c.Gold < 0 {
		return fmt.Errorf("%w: gold must be non-negative", contractx.ErrValidation)
	}
	for _, n := range c.NPCs {
		if !n.Attitude.Valid() {
			return fmt.Errorf("%w: npc %s has attitude %q", contractx.ErrValidation, n.Name, n.Attitude)
		}
	}
	return nil
}

// Modifier is floor((stat-10)/2).
func Modifier(stat int) int {
	d := stat - 10
	if d < 0 {
		return -((-d + 1) / 2)
	}
	return d / 2
}

func (c *Character) stat(skill string) (int, bool) {
	switch strings.ToLower(strings.TrimSpace(skill)) {
	case "strength", "str":
		return c.Stats.Strength, true
	case "agility", "agi", "dexterity":
		return c.Stats.Agility, true
	case "signs", "magic":
		return c.Stats.Signs, true
	default:
		return 0, false
	}
}

// ResolveCheck grades a total against dc. A margin of five either way is a
// critical result.
func ResolveCheck(total, dc int) Outcome {
	switch {
	case total >= dc+5:
		return OutcomeCriticalSuccess
	case total >= dc:
		return OutcomeSuccess
	case total <= dc-5:
		return OutcomeCriticalFailure
	default:
		return OutcomeFailure
	}
}

// SkillCheck rolls a d20 through roll, which must return a value in [0, n).
func (c *Character) SkillCheck(skill string, difficulty Difficulty, roll func(n int) int) (CheckResult, error) {
	stat, ok := c.stat(skill)
	if !ok {
		return CheckResult{}, fmt.Errorf("%w: unknown skill %q, use strength, agility or signs", contractx.ErrInvalidArguments, skill)
	}
	dc, ok := difficulty.Class()
	if !ok {
		return CheckResult{}, fmt.Errorf("%w: unknown difficulty %q", contractx.ErrInvalidArguments, difficulty)
	}

	raw := roll(dieSides) + 1
	mod := Modifier(stat)
	total := raw + mod
	return CheckResult{
		Skill:    strings.ToLower(strings.TrimSpace(skill)),
		Roll:     raw,
		Modifier: mod,
		Total:    total,
		DC:       dc,
		Outcome:  ResolveCheck(total, dc),
	}, nil
}

// AdjustHealth applies delta clamped to [0, MaxHealth] and reports whether
// the character has fallen.
func (c *Character) AdjustHealth(delta int) bool {
	next := c.Health + delta
	if next < 0 {
		next = 0
	}
	if next > c.MaxHealth {
		next = c.MaxHealth
	}
	c.Health = next
	return c.Health == 0
}

func (c *Character) Condition() string {
	switch {
	case c.Health <= 0:
		return "fallen"
	case c.Health <= 25:
		return "critical"
	case c.Health <= 50:
		return "injured"
	default:
		return "healthy"
	}
}

func (c *Character) AdjustGold(delta int64) error {
	if c.Gold+delta < 0 {
		return fmt.Errorf("%w: only %d crowns available", contractx.ErrInvalidTransition, c.Gold)
	}
	c.Gold += delta
	return nil
}

func (c *Character) AddItem(item string) {
	c.Inventory = append(c.Inventory, strings.TrimSpace(item))
}

func (c *Character) RemoveItem(item string) error {
	want := strings.TrimSpace(item)
	for i, have := range c.Inventory {
		if strings.EqualFold(have, want) {
			c.Inventory = append(c.Inventory[:i], c.Inventory[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %q is not in the inventory", contractx.ErrNotFound, item)
}

func (c *Character) AddQuest(name, description string) error {
	name = strings.TrimSpace(name)
	for _, q := range c.Quests {
		if strings.EqualFold(q.Name, name) {
			return fmt.Errorf("%w: quest %q already exists", contractx.ErrInvalidTransition, name)
		}
	}
	c.Quests = append(c.Quests, Quest{Name: name, Description: strings.TrimSpace(description), Status: QuestActive})
	return nil
}

func (c *Character) CompleteQuest(name string, reward int64) (Quest, error) {
	if reward < 0 {
		return Quest{}, fmt.Errorf("%w: reward must be non-negative", contractx.ErrInvalidArguments)
	}
	for i := range c.Quests {
		q := &c.Quests[i]
		if !strings.EqualFold(q.Name, strings.TrimSpace(name)) {
			continue
		}
		if q.Status == QuestCompleted {
			return Quest{}, fmt.Errorf("%w: quest %q is already completed", contractx.ErrInvalidTransition, q.Name)
		}
		q.Status = QuestCompleted
		q.Reward = reward
		c.Gold += reward
		return *q, nil
	}
	return Quest{}, fmt.Errorf("%w: no active quest named %q", contractx.ErrNotFound, name)
}

func (c *Character) Move(location, description string) {
	from := c.Location
	c.Location = strings.TrimSpace(location)
	c.LocationDescription = strings.TrimSpace(description)
	c.Events = append(c.Events, fmt.Sprintf("Traveled from %s to %s", from, c.Location))
}

// MeetNPC records the player meeting name. Meeting someone again updates their
// role and attitude. It reports whether this was the first meeting.
func (c *Character) MeetNPC(name, role string, attitude Attitude) (bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return false, fmt.Errorf("%w: npc name is empty", contractx.ErrInvalidArguments)
	}
	if attitude == "" {
		attitude = AttitudeNeutral
	}
	if !attitude.Valid() {
		return false, fmt.Errorf("%w: attitude %q is not friendly, neutral or hostile", contractx.ErrInvalidArguments, attitude)
	}
	role = strings.TrimSpace(role)
	for i := range c.NPCs {
		if strings.EqualFold(c.NPCs[i].Name, name) {
			c.NPCs[i].Role = role
			c.NPCs[i].Attitude = attitude
			return false, nil
		}
	}
	c.NPCs = append(c.NPCs, NPC{Name: name, Role: role, Attitude: attitude})
	c.Events = append(c.Events, fmt.Sprintf("Met %s, %s", name, role))
	return true, nil
}

// RecordEvent appends a story beat and advances the arc at 4, 8 and 12 beats.
// Travel is logged but does not count as a beat.
func (c *Character) RecordEvent(event string) ArcStage {
	c.Events = append(c.Events, strings.TrimSpace(event))
	c.Beats++
	switch n := c.Beats; {
	case n >= 12:
		c.Arc = ArcResolution
	case n >= 8:
		c.Arc = ArcClimax
	case n >= 4:
		c.Arc = ArcRising
	default:
		c.Arc = ArcBeginning
	}
	return c.Arc
}

func (c *Character) ActiveQuests() []Quest {
	var out []Quest
	for _, q := range c.Quests {
		if q.Status == QuestActive {
			out = append(out, q)
		}
	}
	return out
}

func (c *Character) Summary() string {
	completed := len(c.Quests) - len(c.ActiveQuests())
	return fmt.Sprintf("%s ends the tale at %s with %d health, %d crowns and %d quests completed.",
		c.Name, c.Location, c.Health, c.Gold, completed)
}
