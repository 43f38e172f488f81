package grading

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculator_ComputeFinal(t *testing.T) {
	calc, err := NewCalculator(PreWeighted, nil)
	require.NoError(t, err)

	tests := []struct {
		name       string
		components map[string]float64
		want       Score
		wantErr    error
	}{
		{
			name:       "all components",
			components: map[string]float64{"participacion": 18, "cuaderno": 13, "practica": 18, "exposicion": 18, "prueba_mensual": 23},
			want:       Score{Value: 90, Letter: "A-"},
		},
		{
			name:       "corrected exposicion",
			components: map[string]float64{"participacion": 18, "cuaderno": 13, "practica": 18, "exposicion": 20, "prueba_mensual": 23},
			want:       Score{Value: 92, Letter: "A-"},
		},
		{
			name:       "perfect",
			components: map[string]float64{"participacion": 20, "cuaderno": 15, "practica": 20, "exposicion": 20, "prueba_mensual": 25},
			want:       Score{Value: 100, Letter: "A+"},
		},
		{
			name:       "clamped at 100",
			components: map[string]float64{"participacion": 60, "prueba_mensual": 60},
			want:       Score{Value: 100, Letter: "A+"},
		},
		{
			name:       "rounded to 2 decimals",
			components: map[string]float64{"participacion": 10.005, "cuaderno": 10.001},
			want:       Score{Value: 20.01, Letter: "F+"},
		},
		{name: "empty", components: map[string]float64{}, want: Score{Value: 0, Letter: "F+"}},
		{
			name:       "negative total is not clamped",
			components: map[string]float64{"participacion": -5},
			want:       Score{Value: -5, Letter: NotApplicable},
		},
		{
			name:       "unknown component",
			components: map[string]float64{"participacion": 18, "tarea": 10},
			wantErr:    ErrUnknownComponent,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := calc.ComputeFinal(tt.components)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "ComputeFinal() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCalculator_ComputeFinal_unknownComponentName(t *testing.T) {
	calc, err := NewCalculator(PreWeighted, nil)
	require.NoError(t, err)

	_, err = calc.ComputeFinal(map[string]float64{"tarea": 10})
	var ucErr *UnknownComponentError
	require.True(t, errors.As(err, &ucErr))
	assert.Equal(t, "tarea", ucErr.Name)
}

func TestCalculator_ComputeFinal_deterministic(t *testing.T) {
	calc, err := NewCalculator(PreWeighted, nil)
	require.NoError(t, err)

	components := map[string]float64{"participacion": 17.3, "cuaderno": 12.1, "practica": 19.9, "exposicion": 14.4, "prueba_mensual": 21.7}
	first, err := calc.ComputeFinal(components)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		got, err := calc.ComputeFinal(components)
		require.NoError(t, err)
		assert.Equal(t, first, got)
	}
}

func TestCalculator_rawMode(t *testing.T) {
	calc, err := NewCalculator(Raw, nil)
	require.NoError(t, err)

	got, err := calc.ComputeFinal(map[string]float64{"participacion": 90, "cuaderno": 86.6667, "practica": 90, "exposicion": 90, "prueba_mensual": 92})
	require.NoError(t, err)
	assert.Equal(t, Score{Value: 90, Letter: "A-"}, got)
	assert.Equal(t, float64(MaxScore), calc.Max("cuaderno"))
}

func TestCalculator_Validate(t *testing.T) {
	calc, err := NewCalculator(PreWeighted, nil)
	require.NoError(t, err)

	assert.NoError(t, calc.Validate(map[string]float64{"cuaderno": 15, "participacion": 0}))
	assert.True(t, errors.Is(calc.Validate(map[string]float64{"cuaderno": 16}), ErrOutOfRange))
	assert.True(t, errors.Is(calc.Validate(map[string]float64{"cuaderno": -1}), ErrOutOfRange))
	assert.True(t, errors.Is(calc.Validate(map[string]float64{"lol": 1}), ErrUnknownComponent))
}

func TestNewCalculator(t *testing.T) {
	calc, err := NewCalculator("", map[string]float64{"exam": 100})
	require.NoError(t, err)
	assert.Equal(t, PreWeighted, calc.Mode())
	assert.Equal(t, []string{"exam"}, calc.Components())

	_, err = NewCalculator("lol", nil)
	assert.Error(t, err)
	_, err = NewCalculator(Raw, map[string]float64{"exam": 0})
	assert.Error(t, err)
}

func TestLetter(t *testing.T) {
	tests := []struct {
		score float64
		want  string
	}{
		{100, "A+"}, {97, "A+"}, {96.99, "A"}, {93, "A"}, {92, "A-"}, {90, "A-"},
		{89.5, "B+"}, {87, "B+"}, {86, "B"}, {83, "B"}, {82, "B-"}, {80, "B-"},
		{79, "C+"}, {77, "C+"}, {76, "C"}, {73, "C"}, {72, "C-"}, {70, "C-"},
		{69, "D+"}, {67, "D+"}, {66, "D"}, {63, "D"}, {62, "D-"}, {60, "D-"},
		{59.99, "F+"}, {0, "F+"},
		{-0.01, NotApplicable}, {100.01, NotApplicable},
	}
	for _, tt := range tests {
		if got := Letter(tt.score); got != tt.want {
			t.Errorf("Letter(%v) = %v, want %v", tt.score, got, tt.want)
		}
	}
}
