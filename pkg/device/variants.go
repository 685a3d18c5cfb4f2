package device

import "math/rand/v2"

// Variant pairs an expression id with the head pose that accompanies it.
type Variant struct {
	Expression int      `json:"expression"`
	Pose       HeadPose `json:"pose"`
}

var variants = map[Mood][]Variant{
	MoodNeutral: {
		{Expression: 0, Pose: HeadPose{}},
		{Expression: 1, Pose: HeadPose{Yaw: 5}},
	},
	MoodHappy: {
		{Expression: 0, Pose: HeadPose{Pitch: 5}},
		{Expression: 1, Pose: HeadPose{Pitch: 8, Roll: 6}},
		{Expression: 2, Pose: HeadPose{Pitch: 4, Roll: -6}},
	},
	MoodSad: {
		{Expression: 0, Pose: HeadPose{Pitch: -15}},
		{Expression: 1, Pose: HeadPose{Pitch: -20, Yaw: -10}},
	},
	MoodCurious: {
		{Expression: 0, Pose: HeadPose{Roll: 12}},
		{Expression: 1, Pose: HeadPose{Roll: -12, Pitch: 5}},
		{Expression: 2, Pose: HeadPose{Yaw: 10, Roll: 8}},
	},
	MoodSurprised: {
		{Expression: 0, Pose: HeadPose{Pitch: 12}},
		{Expression: 1, Pose: HeadPose{Pitch: 15, Yaw: -5}},
	},
	MoodSleepy: {
		{Expression: 0, Pose: HeadPose{Pitch: -20}},
		{Expression: 1, Pose: HeadPose{Pitch: -25, Roll: 10}},
	},
	MoodConcerned: {
		{Expression: 0, Pose: HeadPose{Pitch: -5, Roll: 5}},
		{Expression: 1, Pose: HeadPose{Pitch: -8, Roll: -5}},
	},
	MoodPlayful: {
		{Expression: 0, Pose: HeadPose{Roll: 15, Yaw: 10}},
		{Expression: 1, Pose: HeadPose{Roll: -15, Yaw: -10}},
		{Expression: 2, Pose: HeadPose{Pitch: 10, Roll: 20}},
	},
}

// Variants returns the predefined variants for m.
func Variants(m Mood) []Variant {
	return variants[m]
}

// PickVariant chooses one of the mood's variants. A nil rng uses the
// package-level source. Unknown moods get the neutral centered variant.
func PickVariant(m Mood, rng *rand.Rand) Variant {
	vs := variants[m]
	if len(vs) == 0 {
		return Variant{}
	}
	var i int
	if rng != nil {
		i = rng.IntN(len(vs))
	} else {
		i = rand.IntN(len(vs))
	}
	return vs[i]
}
