package config

import (
	"fmt"
	"strings"
)

// CoordinateAxis is one signed basis axis.
type CoordinateAxis uint32

const (
	AxisPositiveX CoordinateAxis = iota
	AxisNegativeX
	AxisPositiveY
	AxisNegativeY
	AxisPositiveZ
	AxisNegativeZ
	AxisUnknown
)

var axisNames = [...]string{
	AxisPositiveX: "+x",
	AxisNegativeX: "-x",
	AxisPositiveY: "+y",
	AxisNegativeY: "-y",
	AxisPositiveZ: "+z",
	AxisNegativeZ: "-z",
	AxisUnknown:   "unknown",
}

func (a CoordinateAxis) String() string {
	if int(a) < len(axisNames) {
		return axisNames[a]
	}
	return fmt.Sprintf("axis(%d)", uint32(a))
}

// ParseAxis parses "+x", "-y", "z" and similar.
func ParseAxis(s string) (CoordinateAxis, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) == 1 {
		s = "+" + s
	}
	for i, n := range axisNames {
		if n == s {
			return CoordinateAxis(i), nil
		}
	}
	return AxisUnknown, fmt.Errorf("unknown axis %q", s)
}

// CoordinateAxes is a basis given by its right, up and front directions.
type CoordinateAxes struct {
	Right CoordinateAxis
	Up    CoordinateAxis
	Front CoordinateAxis
}

// Common bases.
var (
	AxesRightHandedYUp = CoordinateAxes{Right: AxisPositiveX, Up: AxisPositiveY, Front: AxisPositiveZ}
	AxesRightHandedZUp = CoordinateAxes{Right: AxisPositiveX, Up: AxisPositiveZ, Front: AxisNegativeY}
	AxesLeftHandedYUp  = CoordinateAxes{Right: AxisPositiveX, Up: AxisPositiveY, Front: AxisNegativeZ}
	AxesLeftHandedZUp  = CoordinateAxes{Right: AxisPositiveX, Up: AxisPositiveZ, Front: AxisPositiveY}
)

// Valid reports whether the three axes are known and mutually orthogonal.
func (c CoordinateAxes) Valid() bool {
	if c.Right >= AxisUnknown || c.Up >= AxisUnknown || c.Front >= AxisUnknown {
		return false
	}
	return c.Right/2 != c.Up/2 && c.Up/2 != c.Front/2 && c.Right/2 != c.Front/2
}

// FileFormat forces the format of the input.
type FileFormat uint32

const (
	FormatUnknown FileFormat = iota
	FormatFBX
	FormatOBJ
	FormatMTL
)

func (f FileFormat) String() string {
	switch f {
	case FormatFBX:
		return "fbx"
	case FormatOBJ:
		return "obj"
	case FormatMTL:
		return "mtl"
	}
	return "unknown"
}

// SpaceConversion selects how axis and unit conversion is applied.
type SpaceConversion uint32

const (
	// ConvertTransformRoot puts the conversion in the root node transform.
	ConvertTransformRoot SpaceConversion = iota
	// ConvertAdjustTransforms bakes the conversion into node transforms.
	ConvertAdjustTransforms
	// ConvertModifyGeometry bakes the conversion into vertex data.
	ConvertModifyGeometry
)

func (s SpaceConversion) String() string {
	switch s {
	case ConvertTransformRoot:
		return "transform_root"
	case ConvertAdjustTransforms:
		return "adjust_transforms"
	case ConvertModifyGeometry:
		return "modify_geometry"
	}
	return fmt.Sprintf("space_conversion(%d)", uint32(s))
}

// SubdivisionBoundary controls crease handling at mesh boundaries.
type SubdivisionBoundary uint32

const (
	BoundaryDefault SubdivisionBoundary = iota
	BoundaryLegacy
	BoundarySharpNone
	BoundarySharpCorners
	BoundarySharpBoundary
	BoundarySharpInterior
)
