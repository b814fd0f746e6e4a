package minigame

import "testing"

func TestParseGame(t *testing.T) {
	tests := []struct {
		input   string
		want    Game
		wantErr bool
	}{
		{"drawing", GameDrawing, false},
		{"headband", GameHeadband, false},
		{"charades", GameCharades, false},
		{"guessword", GameGuessWord, false},
		{"", "", true},
		{"Drawing", "", true},
		{"poker", "", true},
	}

	for _, tt := range tests {
		got, err := ParseGame(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseGame(%q): expected error, got %q", tt.input, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseGame(%q): unexpected error: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseGame(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestActiveStatus(t *testing.T) {
	if got := GameDrawing.ActiveStatus(); got != StatusDrawing {
		t.Errorf("drawing active status = %q, want %q", got, StatusDrawing)
	}
	for _, game := range []Game{GameHeadband, GameCharades, GameGuessWord} {
		if got := game.ActiveStatus(); got != StatusPlaying {
			t.Errorf("%s active status = %q, want %q", game, got, StatusPlaying)
		}
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusCreated, StatusWaiting, true},
		{StatusWaiting, StatusDrawing, true},
		{StatusWaiting, StatusPlaying, true},
		{StatusDrawing, StatusFinished, true},
		{StatusPlaying, StatusFinished, true},
		{StatusCreated, StatusFinished, true},
		// Repeated writes of the same phase must stay legal.
		{StatusWaiting, StatusWaiting, true},
		{StatusFinished, StatusFinished, true},
		// The two active variants share a rank.
		{StatusDrawing, StatusPlaying, true},
		// Backwards is never allowed.
		{StatusFinished, StatusPlaying, false},
		{StatusPlaying, StatusWaiting, false},
		{StatusWaiting, StatusCreated, false},
		// Unknown phases are rejected outright.
		{Status("bogus"), StatusWaiting, false},
		{StatusWaiting, Status("bogus"), false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestSessionID(t *testing.T) {
	if got := SessionID("q42", "user-7"); got != "q42_user-7" {
		t.Errorf("SessionID = %q, want %q", got, "q42_user-7")
	}
}

func TestSessionHelpers(t *testing.T) {
	s := &Session{}
	if s.Connected() || s.Ready() {
		t.Error("zero session must report not connected and not ready")
	}

	s.DrawerConnected = true
	if !s.Connected() {
		t.Error("drawer flag must count as connected")
	}
	s.DrawerConnected = false
	s.PlayerConnected = true
	if !s.Connected() {
		t.Error("player flag must count as connected")
	}

	s.DrawerReady = true
	if !s.Ready() {
		t.Error("drawer flag must count as ready")
	}

	s.TeamACounter = 3
	s.TeamBCounter = 5
	if got := s.Counter(TeamA); got != 3 {
		t.Errorf("Counter(TeamA) = %d, want 3", got)
	}
	if got := s.Counter(TeamB); got != 5 {
		t.Errorf("Counter(TeamB) = %d, want 5", got)
	}
}
