package types

import "math"

// ClientID identifies a connected peer. It is assigned by the transport on connect.
type ClientID uint64

// NetworkID identifies a spawned entity across every peer.
type NetworkID uint64

// ServerClientID is the identity the server uses when it acts as a writer.
const ServerClientID ClientID = 0

type Vec3 struct {
	X float64 `json:"x" msgpack:"x"`
	Y float64 `json:"y" msgpack:"y"`
	Z float64 `json:"z" msgpack:"z"`
}

func (v Vec3) Add(o Vec3) Vec3      { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vec3) Sub(o Vec3) Vec3      { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }
func (v Vec3) Scale(s float64) Vec3 { return Vec3{v.X * s, v.Y * s, v.Z * s} }
func (v Vec3) Len() float64         { return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z) }

// Finite reports whether no component is NaN or infinite.
func (v Vec3) Finite() bool { return finite(v.X, v.Y, v.Z) }

// Lerp moves from v toward o by t in [0,1].
func (v Vec3) Lerp(o Vec3, t float64) Vec3 {
	return v.Add(o.Sub(v).Scale(t))
}

type Quat struct {
	X float64 `json:"x" msgpack:"x"`
	Y float64 `json:"y" msgpack:"y"`
	Z float64 `json:"z" msgpack:"z"`
	W float64 `json:"w" msgpack:"w"`
}

func (q Quat) Finite() bool { return finite(q.X, q.Y, q.Z, q.W) }

// IdentityQuat is the zero rotation.
var IdentityQuat = Quat{W: 1}

// Nlerp interpolates between q and o and renormalizes, taking the short path.
func (q Quat) Nlerp(o Quat, t float64) Quat {
	dot := q.X*o.X + q.Y*o.Y + q.Z*o.Z + q.W*o.W
	if dot < 0 {
		o = Quat{-o.X, -o.Y, -o.Z, -o.W}
	}
	r := Quat{
		X: q.X + (o.X-q.X)*t,
		Y: q.Y + (o.Y-q.Y)*t,
		Z: q.Z + (o.Z-q.Z)*t,
		W: q.W + (o.W-q.W)*t,
	}
	n := math.Sqrt(r.X*r.X + r.Y*r.Y + r.Z*r.Z + r.W*r.W)
	if n == 0 {
		return IdentityQuat
	}
	return Quat{r.X / n, r.Y / n, r.Z / n, r.W / n}
}

func finite(xs ...float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
