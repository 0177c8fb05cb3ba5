package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"done/backend"
)

type providerJSON struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
	Address     string `json:"address,omitempty"`
	State       string `json:"state"`
	Available   bool   `json:"available"`
}

type taskListResponse struct {
	Tasks  []backend.Task `json:"tasks"`
	List   string         `json:"list,omitempty"`
	Count  int            `json:"count"`
	Result string         `json:"result"`
}

type taskActionResponse struct {
	Action string       `json:"action"`
	Task   backend.Task `json:"task"`
	Result string       `json:"result"`
}

type listActionResponse struct {
	Action string       `json:"action"`
	List   backend.List `json:"list"`
	Result string       `json:"result"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Code   int    `json:"code"`
	Result string `json:"result"`
}

func writeJSON(w io.Writer, v any) error {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(w, string(jsonBytes))
	return nil
}

// outputErrorJSON outputs error in JSON format
func outputErrorJSON(err error, stdout io.Writer) {
	response := errorResponse{
		Error:  err.Error(),
		Code:   1,
		Result: ResultError,
	}

	jsonBytes, _ := json.Marshal(response)
	_, _ = fmt.Fprintln(stdout, string(jsonBytes))
}
