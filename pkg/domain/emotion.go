package domain

import "strings"

// Emotion is one of the fixed labels an Example can be tagged with.
type Emotion string

const (
	EmotionNeutral  Emotion = "neutral"
	EmotionJoy      Emotion = "joy"
	EmotionSadness  Emotion = "sadness"
	EmotionAnger    Emotion = "anger"
	EmotionFear     Emotion = "fear"
	EmotionSurprise Emotion = "surprise"
	EmotionDisgust  Emotion = "disgust"
)

// Intensity bounds, inclusive.
const (
	MinIntensity = 1
	MaxIntensity = 5
)

// Emotions returns the closed label set in display order.
func Emotions() []Emotion {
	return []Emotion{
		EmotionNeutral, EmotionJoy, EmotionSadness, EmotionAnger,
		EmotionFear, EmotionSurprise, EmotionDisgust,
	}
}

// Valid reports whether e belongs to the label set.
func (e Emotion) Valid() bool {
	switch e {
	case EmotionNeutral, EmotionJoy, EmotionSadness, EmotionAnger,
		EmotionFear, EmotionSurprise, EmotionDisgust:
		return true
	}
	return false
}

// ParseEmotion normalizes case and surrounding space.
func ParseEmotion(s string) (Emotion, error) {
	e := Emotion(strings.ToLower(strings.TrimSpace(s)))
	if !e.Valid() {
		return "", Errorf(KindInvalidEmotion, "%q is not one of %v", s, Emotions())
	}
	return e, nil
}

// ValidIntensity reports whether i is within [MinIntensity, MaxIntensity].
func ValidIntensity(i int) bool {
	return i >= MinIntensity && i <= MaxIntensity
}
