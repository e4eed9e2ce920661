package scoring

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"tenderscan/scanner-service/internal/model"
	"tenderscan/scanner-service/internal/textnorm"
)

// ValueBand awards Bonus when a tender's value lies in [Min, Max].
type ValueBand struct {
	Min   float64 `yaml:"min"`
	Max   float64 `yaml:"max"`
	Bonus float64 `yaml:"bonus"`
}

// Urgency awards Bonus when the tender closes within [MinDays, MaxDays].
type Urgency struct {
	MinDays int     `yaml:"min_days"`
	MaxDays int     `yaml:"max_days"`
	Bonus   float64 `yaml:"bonus"`
}

// Thresholds map a score to a tier. Each lower bound is inclusive.
type Thresholds struct {
	Floor  float64 `yaml:"floor"`
	Medium float64 `yaml:"medium"`
	High   float64 `yaml:"high"`
}

// Tier returns the tier for score.
func (t Thresholds) Tier(score float64) model.Tier {
	switch {
	case score >= t.High:
		return model.TierHigh
	case score >= t.Medium:
		return model.TierMedium
	case score >= t.Floor:
		return model.TierLow
	default:
		return model.TierExcluded
	}
}

// Course is a catalog entry matched when any trigger appears as a whole word
// or phrase.
type Course struct {
	Name     string   `yaml:"name"`
	Triggers []string `yaml:"triggers"`
}

// Config holds every table the scorer reads. Negative weights are given as
// positive magnitudes and subtracted. A zero weight disables a keyword.
type Config struct {
	Positive    map[string]float64 `yaml:"positive"`
	Negative    map[string]float64 `yaml:"negative"`
	ValueBand   ValueBand          `yaml:"value_band"`
	Urgency     Urgency            `yaml:"urgency"`
	Thresholds  Thresholds         `yaml:"thresholds"`
	Courses     []Course           `yaml:"courses"`
	PortalBonus map[string]float64 `yaml:"portal_bonus"`
}

// DefaultConfig returns the compiled-in tables.
func DefaultConfig() Config {
	return Config{
		Positive: map[string]float64{
			"professional development":    20,
			"developpement professionnel": 20,
			"training":                    15,
			"formation professionnelle":   15,
			"upskilling":                  12,
			"reskilling":                  12,
			"coaching":                    12,
			"certification":               10,
			"capacity building":           10,
			"renforcement des capacites":  10,
			"e-learning":                  10,
			"workshop":                    8,
			"seminar":                     8,
			"facilitation":                8,
			"mentoring":                   8,
			"curriculum":                  8,
			"education":                   6,
			"learning":                    5,
			"instructor":                  5,
			"leadership":                  5,
			"change management":           5,
			"project management":          5,
			"skill development":           5,
		},
		Negative: map[string]float64{
			"construction":        15,
			"paving":              15,
			"snow removal":        15,
			"roofing":             12,
			"janitorial":          12,
			"equipment":           10,
			"vehicle":             8,
			"furniture":           8,
			"supply and delivery": 8,
		},
		ValueBand:  ValueBand{Min: 50_000, Max: 500_000, Bonus: 10},
		Urgency:    Urgency{MinDays: 7, MaxDays: 30, Bonus: 5},
		Thresholds: Thresholds{Floor: 5, Medium: 15, High: 30},
		Courses: []Course{
			{Name: "AWS Training", Triggers: []string{"aws", "amazon web services"}},
			{Name: "Azure Training", Triggers: []string{"azure"}},
			{Name: "Cloud Computing", Triggers: []string{"cloud"}},
			{Name: "Cybersecurity Training", Triggers: []string{"cybersecurity", "cyber security"}},
			{Name: "CISSP Certification", Triggers: []string{"cissp"}},
			{Name: "Project Management", Triggers: []string{"project management"}},
			{Name: "PMP Certification", Triggers: []string{"pmp"}},
			{Name: "PRINCE2 Certification", Triggers: []string{"prince2"}},
			{Name: "Agile Training", Triggers: []string{"agile"}},
			{Name: "Scrum Training", Triggers: []string{"scrum"}},
			{Name: "Leadership Development", Triggers: []string{"leadership"}},
			{Name: "ITIL Training", Triggers: []string{"itil"}},
			{Name: "DevOps Training", Triggers: []string{"devops"}},
			{Name: "Data Analytics", Triggers: []string{"data analytics", "data analysis"}},
			{Name: "Business Intelligence", Triggers: []string{"business intelligence"}},
			{Name: "Change Management", Triggers: []string{"change management", "gestion du changement"}},
			{Name: "Executive Coaching", Triggers: []string{"coaching"}},
		},
		PortalBonus: map[string]float64{
			"canadabuys": 3,
			"merx":       2,
			"bc bid":     2,
		},
	}
}

// LoadConfig reads YAML overrides on top of DefaultConfig. Keyword and
// portal maps merge entry by entry. Band, urgency, thresholds and a
// non-empty course list replace the defaults whole.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read scoring config: %w", err)
	}

	var override Config
	if err := yaml.Unmarshal(b, &override); err != nil {
		return Config{}, fmt.Errorf("parse scoring config %s: %w", path, err)
	}
	cfg.merge(override)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("scoring config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) merge(o Config) {
	for k, v := range o.Positive {
		c.Positive[k] = v
	}
	for k, v := range o.Negative {
		c.Negative[k] = v
	}
	for k, v := range o.PortalBonus {
		c.PortalBonus[k] = v
	}
	if o.ValueBand != (ValueBand{}) {
		c.ValueBand = o.ValueBand
	}
	if o.Urgency != (Urgency{}) {
		c.Urgency = o.Urgency
	}
	if o.Thresholds != (Thresholds{}) {
		c.Thresholds = o.Thresholds
	}
	if len(o.Courses) > 0 {
		c.Courses = o.Courses
	}
}

// Validate rejects tables the scorer cannot apply consistently.
func (c Config) Validate() error {
	var errs []error
	for k, w := range c.Positive {
		if w < 0 {
			errs = append(errs, fmt.Errorf("positive keyword %q has negative weight %v", k, w))
		}
	}
	for k, w := range c.Negative {
		if w < 0 {
			errs = append(errs, fmt.Errorf("negative keyword %q must be given as a magnitude, got %v", k, w))
		}
		if c.Positive[k] > 0 && w > 0 {
			errs = append(errs, fmt.Errorf("keyword %q is both positive and negative", k))
		}
	}
	if c.ValueBand.Min > c.ValueBand.Max {
		errs = append(errs, fmt.Errorf("value band min %v exceeds max %v", c.ValueBand.Min, c.ValueBand.Max))
	}
	if c.Urgency.MinDays > c.Urgency.MaxDays {
		errs = append(errs, fmt.Errorf("urgency min_days %d exceeds max_days %d", c.Urgency.MinDays, c.Urgency.MaxDays))
	}
	t := c.Thresholds
	if t.Floor > t.Medium || t.Medium > t.High {
		errs = append(errs, fmt.Errorf("thresholds must satisfy floor <= medium <= high, got %v/%v/%v", t.Floor, t.Medium, t.High))
	}
	for i, course := range c.Courses {
		if course.Name == "" || len(course.Triggers) == 0 {
			errs = append(errs, fmt.Errorf("course %d needs a name and at least one trigger", i))
		}
	}
	return errors.Join(errs...)
}

// WithPortalBonuses returns a copy of c whose portal bonus table includes
// every descriptor's non-zero PriorityBonus. Descriptor values win.
func (c Config) WithPortalBonuses(portals []model.PortalDescriptor) Config {
	bonus := make(map[string]float64, len(c.PortalBonus)+len(portals))
	for k, v := range c.PortalBonus {
		bonus[textnorm.Fold(k)] = v
	}
	for _, p := range portals {
		if p.PriorityBonus != 0 {
			bonus[textnorm.Fold(p.Name)] = p.PriorityBonus
		}
	}
	c.PortalBonus = bonus
	return c
}
