package appconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Meldroq8/trivia-game-sub003/internal/minigame"
	"github.com/Meldroq8/trivia-game-sub003/internal/presenter"
)

// LoadGameSettings reads per-game tuning from a YAML file keyed by game
// name. Games absent from the file keep their defaults, as do zero-valued
// fields within an entry.
func LoadGameSettings(path string) (map[minigame.Game]presenter.GameSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read games file: %w", err)
	}

	var raw map[string]presenter.GameSettings
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse games file: %w", err)
	}

	settings := make(map[minigame.Game]presenter.GameSettings, len(raw))
	for name, entry := range raw {
		game, err := minigame.ParseGame(name)
		if err != nil {
			return nil, fmt.Errorf("games file: %w", err)
		}
		s := presenter.DefaultSettings(game)
		if entry.TimerSeconds > 0 {
			s.TimerSeconds = entry.TimerSeconds
		}
		if entry.HintThreshold > 0 {
			s.HintThreshold = entry.HintThreshold
		}
		if entry.MaxQuestions > 0 {
			s.MaxQuestions = entry.MaxQuestions
		}
		settings[game] = s
	}
	return settings, nil
}
