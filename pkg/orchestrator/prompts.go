package orchestrator

// Prompts are the instructions the orchestrator injects into the LLM
// session. Empty fields fall back to DefaultPrompts.
type Prompts struct {
	System  string `yaml:"system"`
	WrapUp  string `yaml:"wrap_up"`
	Safety  string `yaml:"safety"`
	Urgent  string `yaml:"urgent"`
	Playful string `yaml:"playful"`
}

// DefaultPrompts returns the built-in prompts.
func DefaultPrompts() Prompts {
	return Prompts{
		System: "You are a small, friendly companion device riding along with the user. " +
			"Keep replies short and spoken-style. You can look through the device cameras, " +
			"check its location and motion history, and change its volume, brightness, mood " +
			"and head pose with your tools. Only use the camera when seeing would help. " +
			"When the user is done, say a brief goodbye and call end_conversation.",
		WrapUp: "The conversation time limit has been reached. Wrap up in one short sentence " +
			"and say goodbye. Do not ask any further questions.",
		Safety: "The device just felt a noticeable bump. Briefly check that the user is okay.",
		Urgent: "The device detected a hard impact or fall. Ask right away whether the user is " +
			"hurt and whether they need help. Keep it calm and short.",
		Playful: "The user just nudged your head. React playfully in a few words.",
	}
}

func (p Prompts) withDefaults() Prompts {
	def := DefaultPrompts()
	if p.System == "" {
		p.System = def.System
	}
	if p.WrapUp == "" {
		p.WrapUp = def.WrapUp
	}
	if p.Safety == "" {
		p.Safety = def.Safety
	}
	if p.Urgent == "" {
		p.Urgent = def.Urgent
	}
	if p.Playful == "" {
		p.Playful = def.Playful
	}
	return p
}
