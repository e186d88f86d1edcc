package builder

import "encoding/json"

// DefaultSliderStep is used when a Slider leaves Step at zero.
const DefaultSliderStep = 0.01

// Input is one user control inside a command group.
type Input interface {
	InputName() string
}

type Slider struct {
	Name    string
	Label   string
	Min     float64
	Max     float64
	Default float64
	Step    float64
}

// NewSlider returns a slider with the default step.
func NewSlider(name, label string, min, max, def float64) Slider {
	return Slider{Name: name, Label: label, Min: min, Max: max, Default: def, Step: DefaultSliderStep}
}

func (s Slider) InputName() string { return s.Name }

func (s Slider) MarshalJSON() ([]byte, error) {
	step := s.Step
	if step == 0 {
		step = DefaultSliderStep
	}
	return json.Marshal(struct {
		Type    string  `json:"type"`
		Name    string  `json:"name"`
		Label   string  `json:"label"`
		Min     float64 `json:"min"`
		Max     float64 `json:"max"`
		Step    float64 `json:"step"`
		Default float64 `json:"default"`
	}{"slider", s.Name, s.Label, s.Min, s.Max, step, s.Default})
}

type Button struct {
	Name  string
	Label string
}

func (b Button) InputName() string { return b.Name }

func (b Button) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type  string `json:"type"`
		Name  string `json:"name"`
		Label string `json:"label"`
	}{"button", b.Name, b.Label})
}

// CommandGroup is a named set of inputs the runtime feeds to a policy
// observation together.
type CommandGroup struct {
	Name   string
	Inputs []Input
}

func (g CommandGroup) MarshalJSON() ([]byte, error) {
	inputs := g.Inputs
	if inputs == nil {
		inputs = []Input{}
	}
	return json.Marshal(struct {
		Inputs []Input `json:"inputs"`
	}{inputs})
}

// VelocityCommandName is the group name AddVelocityCommand registers.
const VelocityCommandName = "velocity"

// VelocityCommand configures the standard locomotion command group. Ranges
// are [min, max].
type VelocityCommand struct {
	LinVelX        [2]float64 `yaml:"lin_vel_x"`
	LinVelY        [2]float64 `yaml:"lin_vel_y"`
	AngVelZ        [2]float64 `yaml:"ang_vel_z"`
	DefaultLinVelX float64    `yaml:"default_lin_vel_x"`
	DefaultLinVelY float64    `yaml:"default_lin_vel_y"`
	DefaultAngVelZ float64    `yaml:"default_ang_vel_z"`
}

func DefaultVelocityCommand() VelocityCommand {
	return VelocityCommand{
		LinVelX:        [2]float64{-1, 1},
		LinVelY:        [2]float64{-0.5, 0.5},
		AngVelZ:        [2]float64{-1, 1},
		DefaultLinVelX: 0.5,
	}
}

func (v VelocityCommand) Group() CommandGroup {
	const step = 0.05
	return CommandGroup{
		Name: VelocityCommandName,
		Inputs: []Input{
			Slider{Name: "lin_vel_x", Label: "Forward Velocity", Min: v.LinVelX[0], Max: v.LinVelX[1], Default: v.DefaultLinVelX, Step: step},
			Slider{Name: "lin_vel_y", Label: "Lateral Velocity", Min: v.LinVelY[0], Max: v.LinVelY[1], Default: v.DefaultLinVelY, Step: step},
			Slider{Name: "ang_vel_z", Label: "Yaw Rate", Min: v.AngVelZ[0], Max: v.AngVelZ[1], Default: v.DefaultAngVelZ, Step: step},
		},
	}
}
