// Package channels describes the columns of an eye-tracking time series:
// their "+"-delimited names, how they are interpolated and which statistic
// group aggregates them.
package channels

import (
	"fmt"
	"sort"
	"strings"
)

// Separator joins the tokens of a channel or feature name.
const Separator = "+"

// Well-known channels of the eye-tracking series.
const (
	EyeMovementType = "event+eye_movement_type+eventspec"
	Fixation        = "event+FIXA+onehot"
	Saccade         = "event+SACC+onehot"
	RightEyeState   = "eye+right_eye_state+"
	LeftEyeState    = "eye+left_eye_state+"
	TargetZone      = "aoi+target_zone+"
	AngularVelocity = "gaze+angle_change+velocity"

	Phase    = "groundtruth+phase+"
	Scenario = "groundtruth+scenario+"
	Variant  = "groundtruth+variant+"
	BAC      = "groundtruth+BAC+"
)

// Reserved keys of every feature table.
const (
	KeyProband          = "groundtruth+id++"
	KeyBAC              = "groundtruth+BAC++"
	KeyNumSamples       = "agg+num_samples++"
	KeyProportionSample = "agg+proportion_num_samples++"
)

// Kind selects the interpolation treatment of a channel.
type Kind int

const (
	KindContinuous Kind = iota
	KindBinary
	KindCategorical
	KindEventMetric
)

func (k Kind) String() string {
	switch k {
	case KindContinuous:
		return "continuous"
	case KindBinary:
		return "binary"
	case KindCategorical:
		return "categorical"
	case KindEventMetric:
		return "event-metric"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Nearest reports whether the channel is filled with nearest-in-time values
// rather than linear interpolation.
func (k Kind) Nearest() bool {
	return k != KindContinuous
}

// Role selects the statistic group a channel feeds.
type Role int

const (
	RoleNone Role = iota
	RoleContinuous
	RoleBinaryEvent
	RoleRegion
	RoleEventMetric
	RoleLabel
)

func (r Role) String() string {
	switch r {
	case RoleNone:
		return "none"
	case RoleContinuous:
		return "continuous"
	case RoleBinaryEvent:
		return "binary-event"
	case RoleRegion:
		return "region"
	case RoleEventMetric:
		return "event-metric"
	case RoleLabel:
		return "label"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// Spec is the resolved treatment of one channel.
type Spec struct {
	Kind Kind
	Role Role
}

// Split returns the tokens of a "+"-delimited name.
func Split(name string) []string {
	return strings.Split(name, Separator)
}

// Join builds a "+"-delimited name.
func Join(tokens ...string) string {
	return strings.Join(tokens, Separator)
}

// MetricName derives the short metric name of an event-metric channel from
// the last two "_" tokens of its second name token, e.g.
// "event+eye_movement_peak_vel+eventspec" -> "peak_vel".
func MetricName(channel string) string {
	tokens := Split(channel)
	if len(tokens) < 2 {
		return channel
	}
	parts := strings.Split(tokens[1], "_")
	if len(parts) > 2 {
		parts = parts[len(parts)-2:]
	}
	return strings.Join(parts, "_")
}

// Classification maps channel names to their resolved Spec. It is built once
// from configuration and never mutated, so it can be shared by every worker.
type Classification struct {
	specs map[string]Spec
}

// Builder accumulates channel specs before freezing them into a
// Classification.
type Builder struct {
	specs map[string]Spec
	err   error
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{specs: make(map[string]Spec)}
}

// Add declares the treatment of the given channels. Declaring the same
// channel twice with a different role is an error; a later kind replaces an
// earlier one when the role is unchanged or unset.
func (b *Builder) Add(kind Kind, role Role, names ...string) *Builder {
	for _, name := range names {
		if name == "" {
			continue
		}
		prev, ok := b.specs[name]
		if ok && prev.Role != RoleNone && role != RoleNone && prev.Role != role {
			if b.err == nil {
				b.err = fmt.Errorf("channel %q declared as both %s and %s", name, prev.Role, role)
			}
			continue
		}
		if ok && role == RoleNone {
			role = prev.Role
		}
		b.specs[name] = Spec{Kind: kind, Role: role}
	}
	return b
}

// Build freezes the builder.
func (b *Builder) Build() (*Classification, error) {
	if b.err != nil {
		return nil, b.err
	}
	specs := make(map[string]Spec, len(b.specs))
	for k, v := range b.specs {
		specs[k] = v
	}
	return &Classification{specs: specs}, nil
}

// Spec returns the treatment of a channel. Unknown channels are continuous
// and not aggregated.
func (c *Classification) Spec(name string) Spec {
	if c == nil {
		return Spec{}
	}
	return c.specs[name]
}

// Kind returns the interpolation kind of a channel.
func (c *Classification) Kind(name string) Kind { return c.Spec(name).Kind }

// Role returns the aggregation role of a channel.
func (c *Classification) Role(name string) Role { return c.Spec(name).Role }

// Channels returns the declared channels of the given kind, sorted.
func (c *Classification) Channels(kind Kind) []string {
	var out []string
	for name, s := range c.specs {
		if s.Kind == kind {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// WithRole returns the declared channels of the given role, sorted.
func (c *Classification) WithRole(role Role) []string {
	var out []string
	for name, s := range c.specs {
		if s.Role == role {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
