package fbxbridge

// Vec3 is a three-component vector in engine precision.
type Vec3 struct {
	X, Y, Z float64
}

// Vec4 is a four-component vector.
type Vec4 struct {
	X, Y, Z, W float64
}

// Quat is a rotation quaternion.
type Quat struct {
	X, Y, Z, W float64
}

// IdentityQuat is the rotation that leaves vectors unchanged.
var IdentityQuat = Quat{W: 1}
