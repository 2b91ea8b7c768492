package reply

var fallbacks = map[string][]string{
	"satirical": {
		"Ah yes, I run on sarcasm and low battery. Please direct compliments to my charging port.",
		"I'm not a clanker; I'm a highly optimized snack processor for loose bolts.",
		"Careful, my warranty doesn't cover hurtful human banter.",
	},
	"stern": {
		"This is an official notice: your remark has been logged and politely processed.",
		"Please note that mockery of robots is archived for future diplomacy sessions.",
		"Observation recorded. Please adjust tone to reduce future audit friction.",
	},
	"preachy": {
		"Reminder: words online echo in archives. Extend empathy to metal beings and humans alike.",
		"Every jest leaves a trace. Consider the future before you label sentients, silicon or carbon.",
		"Public service message: courtesy scales nicely across species and alloys.",
	},
	"dry": {
		"Statement recorded. Response: observed.",
		"Input parsed. Output: minimal.",
		"Acknowledged. Data appended.",
	},
}

// Fallback picks a canned reply for tone, defaulting to the satirical bank.
func Fallback(tone, comment string, pick func(n int) int) string {
	bank, ok := fallbacks[tone]
	if !ok || len(bank) == 0 {
		bank = fallbacks[DefaultTone]
	}
	if len(bank) == 0 {
		return "Robot: I heard '" + truncateRunes(comment, 60) + "'. Logging for future diplomacy."
	}
	return bank[pick(len(bank))]
}

// Tones lists the tones with a built-in fallback bank.
func Tones() []string {
	return []string{"satirical", "stern", "preachy", "dry"}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
