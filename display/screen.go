package systole

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
)

// GetTTY opens the terminal and prepares it for the View
func GetTTY() (tcell.Screen, error) {
	s, err := tcell.NewScreen()
	if err != nil {
		return nil, fmt.Errorf("could not get new screen: %w", err)
	}
	if err := InitScreen(s); err != nil {
		return nil, err
	}
	return s, nil
}

// InitScreen applies the View style to an allocated screen,
// a tcell.SimulationScreen works the same as a TTY
func InitScreen(s tcell.Screen) error {
	if err := s.Init(); err != nil {
		return fmt.Errorf("could not initialize screen: %w", err)
	}
	defStyle := tcell.StyleDefault.Background(tcell.ColorBlack).Foreground(tcell.ColorPink)
	s.SetStyle(defStyle)
	s.EnableMouse()
	s.Clear()
	return nil
}

// WriteBar fills a box with the style's background
// x1 = starting X axis (from left), x2 = ending X axis (from left)
// y1 = starting Y axis (from top), y2 = ending Y axis (from top)
func WriteBar(s tcell.Screen, x1, y1, x2, y2 int, style tcell.Style) {
	for row := y1; row < y2; row++ {
		for col := x1; col < x2; col++ {
			s.SetContent(col, row, ' ', nil, style)
		}
	}
}
