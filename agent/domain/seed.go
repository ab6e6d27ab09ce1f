package domain

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	//go:embed data/catalog.yaml
	catalogRaw []byte

	//go:embed data/cases.yaml
	casesRaw []byte

	//go:embed data/concepts.yaml
	conceptsRaw []byte
)

type Product struct {
	ID       string   `yaml:"id" json:"id"`
	Name     string   `yaml:"name" json:"name"`
	Price    int64    `yaml:"price" json:"price"`
	Unit     string   `yaml:"unit" json:"unit"`
	Category string   `yaml:"category" json:"category"`
	Tags     []string `yaml:"tags" json:"tags,omitempty"`
}

type StoreInfo struct {
	Name        string `yaml:"name"`
	Currency    string `yaml:"currency"`
	DeliveryFee int64  `yaml:"delivery_fee"`
}

// Catalog is the read-only grocery inventory.
type Catalog struct {
	Store    StoreInfo           `yaml:"store"`
	Products []Product           `yaml:"products"`
	Recipes  map[string][]string `yaml:"recipes"`

	byID map[string]Product
}

func (c *Catalog) Product(id string) (Product, bool) {
	p, ok := c.byID[strings.TrimSpace(id)]
	return p, ok
}

// Search matches query against product names, ids and tags.
func (c *Catalog) Search(query string) []Product {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	var out []Product
	for _, p := range c.Products {
		if matchesProduct(p, q) {
			out = append(out, p)
		}
	}
	return out
}

func matchesProduct(p Product, q string) bool {
	if strings.Contains(strings.ToLower(p.Name), q) || strings.Contains(p.ID, q) || p.Category == q {
		return true
	}
	for _, tag := range p.Tags {
		if strings.Contains(tag, q) || strings.Contains(q, tag) {
			return true
		}
	}
	return false
}

// Recipe resolves a dish name to its ingredient ids. Partial names match in
// either direction.
func (c *Catalog) Recipe(name string) (string, []string, bool) {
	q := strings.ToLower(strings.TrimSpace(name))
	if q == "" {
		return "", nil, false
	}
	for _, recipe := range c.RecipeNames() {
		if strings.Contains(q, recipe) || strings.Contains(recipe, q) {
			return recipe, c.Recipes[recipe], true
		}
	}
	return "", nil, false
}

func (c *Catalog) RecipeNames() []string {
	names := make([]string, 0, len(c.Recipes))
	for name := range c.Recipes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type Transaction struct {
	Merchant string `yaml:"merchant" json:"merchant"`
	Amount   int64  `yaml:"amount" json:"amount"`
	Currency string `yaml:"currency" json:"currency"`
	Location string `yaml:"location" json:"location"`
	Time     string `yaml:"time" json:"time"`
}

// CaseSeed is a fraud case awaiting review.
type CaseSeed struct {
	CaseID           string      `yaml:"case_id"`
	Username         string      `yaml:"username"`
	CustomerName     string      `yaml:"customer_name"`
	CardType         string      `yaml:"card_type"`
	CardEnding       string      `yaml:"card_ending"`
	SecurityQuestion string      `yaml:"security_question"`
	SecurityAnswer   string      `yaml:"security_answer"`
	Transaction      Transaction `yaml:"transaction"`
}

type Concept struct {
	ID             string `yaml:"id" json:"id"`
	Title          string `yaml:"title" json:"title"`
	Summary        string `yaml:"summary" json:"summary"`
	SampleQuestion string `yaml:"sample_question" json:"sample_question"`
}

type seedData struct {
	catalog  *Catalog
	cases    []CaseSeed
	concepts []Concept
	err      error
}

var (
	seedOnce sync.Once
	seeds    seedData
)

func loadSeeds() seedData {
	seedOnce.Do(func() {
		var catalog Catalog
		if err := yaml.Unmarshal(catalogRaw, &catalog); err != nil {
			seeds.err = fmt.Errorf("decode catalog: %w", err)
			return
		}
		catalog.byID = make(map[string]Product, len(catalog.Products))
		for _, p := range catalog.Products {
			catalog.byID[p.ID] = p
		}
		seeds.catalog = &catalog

		if err := yaml.Unmarshal(casesRaw, &seeds.cases); err != nil {
			seeds.err = fmt.Errorf("decode cases: %w", err)
			return
		}
		if err := yaml.Unmarshal(conceptsRaw, &seeds.concepts); err != nil {
			seeds.err = fmt.Errorf("decode concepts: %w", err)
			return
		}
	})
	return seeds
}

// DefaultCatalog returns the embedded catalog. It panics on a malformed
// embed, which can only happen at build time.
func DefaultCatalog() *Catalog {
	s := loadSeeds()
	if s.err != nil {
		panic(s.err)
	}
	return s.catalog
}

// FindCaseSeed looks up a pending case by username, ignoring case.
func FindCaseSeed(username string) (CaseSeed, bool) {
	s := loadSeeds()
	want := strings.ToLower(strings.TrimSpace(username))
	for _, c := range s.cases {
		if strings.ToLower(c.Username) == want {
			return c, true
		}
	}
	return CaseSeed{}, false
}

func Concepts() []Concept {
	s := loadSeeds()
	out := make([]Concept, len(s.concepts))
	copy(out, s.concepts)
	return out
}

func FindConcept(idOrTitle string) (Concept, bool) {
	want := strings.ToLower(strings.TrimSpace(idOrTitle))
	for _, c := range loadSeeds().concepts {
		if c.ID == want || strings.ToLower(c.Title) == want {
			return c, true
		}
	}
	return Concept{}, false
}
