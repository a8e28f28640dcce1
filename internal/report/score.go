package report

// ScoreQueue receives contributor score credits.
const ScoreQueue = "update_score"

// ScoreKeyLocation marks a score earned by submitting located reports.
const ScoreKeyLocation = 0

// Score credits one user with a number of located reports.
type Score struct {
	Key    int   `json:"key"`
	UserID int64 `json:"userid"`
	Value  int   `json:"value"`
}

// ValidNickname reports whether a nickname falls inside the length
// window that earns score credit.
func ValidNickname(nickname string) bool {
	return len(nickname) >= MinNicknameLen && len(nickname) <= MaxNicknameLen
}
