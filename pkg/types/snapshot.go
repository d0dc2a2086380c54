package types

import "time"

// UsersView lists the authenticated usernames.
type UsersView struct {
	Count int      `json:"count"`
	Users []string `json:"users"`
}

// MatchView is the state of the global match slot.
type MatchView struct {
	Active    bool       `json:"active"`
	UsernameA string     `json:"usernameA,omitempty"`
	UsernameB string     `json:"usernameB,omitempty"`
	MovedA    bool       `json:"movedA"`
	MovedB    bool       `json:"movedB"`
	Deadline  *time.Time `json:"deadline,omitempty"`
}

// MatchRecordView is one finished match from the history.
//
//	outcome: "resolved" | "timeout" | "disconnect"
//	winner: empty on a draw or a cancelled match
type MatchRecordView struct {
	PlayerA   string    `json:"playerA"`
	PlayerB   string    `json:"playerB"`
	MoveA     string    `json:"moveA,omitempty"`
	MoveB     string    `json:"moveB,omitempty"`
	Winner    string    `json:"winner,omitempty"`
	Outcome   string    `json:"outcome"`
	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt"`
}
