package engine

// DrainResult — агрегированный итог дренажа одной очереди.
type DrainResult struct {
	Synced    int      `json:"synced"`
	Failed    int      `json:"failed"`
	Remaining int      `json:"remaining"`
	Errors    []string `json:"errors,omitempty"`
}

func (r *DrainResult) addError(err error) {
	if err == nil {
		return
	}
	r.Errors = append(r.Errors, err.Error())
}
