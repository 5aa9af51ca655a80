package metrics

import (
	"testing"

	"github.com/pavelanni/simpatient/internal/model"
)

func TestInformationDensity(t *testing.T) {
	tests := []struct {
		name  string
		turns []model.Turn
		want  float64
	}{
		{"no learner turns", []model.Turn{model.PatientTurn("anxiety depression")}, 0},
		{"empty learner turn", []model.Turn{model.LearnerTurn("")}, 0},
		{
			"patient words ignored",
			[]model.Turn{
				model.PatientTurn("I have panic attacks and anxiety"),
				model.LearnerTurn("How is your sleep and mood?"),
			},
			0.333, // 2 of 6
		},
		{"case insensitive", []model.Turn{model.LearnerTurn("Anxiety, DEPRESSION, stress.")}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InformationDensity(tt.turns); got != tt.want {
				t.Errorf("InformationDensity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEmotionalTendency(t *testing.T) {
	tests := []struct {
		name  string
		turns []model.Turn
		want  float64
	}{
		{"neutral", []model.Turn{model.LearnerTurn("When did it start?")}, 0},
		{"supportive", []model.Turn{model.LearnerTurn("Thank you, I understand.")}, 1},
		{"hostile", []model.Turn{model.LearnerTurn("That is a bad problem")}, -1},
		{
			"repeated word counts once per message",
			[]model.Turn{
				model.LearnerTurn("help help help, that is bad"),
				model.LearnerTurn("sorry"),
			},
			0.333, // (2-1)/3
		},
		{"patient ignored", []model.Turn{model.PatientTurn("thank you"), model.LearnerTurn("wrong")}, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EmotionalTendency(tt.turns); got != tt.want {
				t.Errorf("EmotionalTendency() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResponseLength(t *testing.T) {
	turns := []model.Turn{
		model.PatientTurn("a b c d e f g"),
		model.LearnerTurn("How are you?"),
		model.LearnerTurn("Tell me more about that"),
		model.LearnerTurn("Okay"),
	}
	if got := ResponseLength(turns); got != 3 {
		t.Errorf("ResponseLength() = %v, want 3", got)
	}
	if got := ResponseLength(turns[:3]); got != 4 {
		t.Errorf("ResponseLength() = %v, want 4", got)
	}
	if got := ResponseLength(nil); got != 0 {
		t.Errorf("ResponseLength(nil) = %v, want 0", got)
	}
	uneven := []model.Turn{model.LearnerTurn("one two"), model.LearnerTurn("one"), model.LearnerTurn("one")}
	if got := ResponseLength(uneven); got != 1.33 {
		t.Errorf("ResponseLength() = %v, want 1.33", got)
	}
}

func TestCalculate(t *testing.T) {
	turns := []model.Turn{
		model.PatientTurn("Hello, I'm Maria."),
		model.LearnerTurn("Thank you for coming. How is your sleep?"),
		model.PatientTurn("Not great."),
	}
	m := Calculate(turns)
	if m.InformationDensity == nil || m.EmotionalTendency == nil || m.ResponseLength == nil || m.TurnNumber == nil {
		t.Fatalf("Calculate left a metric unset: %+v", m)
	}
	if *m.TurnNumber != 3 {
		t.Errorf("TurnNumber = %d, want 3", *m.TurnNumber)
	}
	if *m.InformationDensity != 0.125 {
		t.Errorf("InformationDensity = %v, want 0.125", *m.InformationDensity)
	}
	if *m.EmotionalTendency != 1 {
		t.Errorf("EmotionalTendency = %v, want 1", *m.EmotionalTendency)
	}
	if *m.ResponseLength != 8 {
		t.Errorf("ResponseLength = %v, want 8", *m.ResponseLength)
	}
}
