package wire

import (
	"encoding/json"
	"errors"

	"done/backend"
)

// TaskRequest encodes a task into a request.
func TaskRequest(task *backend.Task) (*ProviderRequest, error) {
	data, err := json.Marshal(task)
	if err != nil {
		return nil, err
	}
	return &ProviderRequest{Task: data, ID: task.ID, Parent: task.Parent}, nil
}

// ListRequest encodes a list into a request.
func ListRequest(list *backend.List) (*ProviderRequest, error) {
	data, err := json.Marshal(list)
	if err != nil {
		return nil, err
	}
	return &ProviderRequest{List: data, ID: list.ID}, nil
}

// DecodeTask returns the task carried by the request.
func (m *ProviderRequest) DecodeTask() (*backend.Task, error) {
	if len(m.Task) == 0 {
		return nil, backend.InvalidArgumentf("request carries no task")
	}
	var task backend.Task
	if err := json.Unmarshal(m.Task, &task); err != nil {
		return nil, backend.InvalidArgumentf("malformed task: %v", err)
	}
	return &task, nil
}

// DecodeList returns the list carried by the request.
func (m *ProviderRequest) DecodeList() (*backend.List, error) {
	if len(m.List) == 0 {
		return nil, backend.InvalidArgumentf("request carries no list")
	}
	var list backend.List
	if err := json.Unmarshal(m.List, &list); err != nil {
		return nil, backend.InvalidArgumentf("malformed list: %v", err)
	}
	return &list, nil
}

// Success wraps a payload in a successful envelope. A nil payload leaves Data empty.
func Success(message string, payload any) (*ProviderResponse, error) {
	resp := &ProviderResponse{Successful: true, Message: message}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		resp.Data = data
	}
	return resp, nil
}

// Failure builds an unsuccessful envelope describing err.
func Failure(err error) *ProviderResponse {
	msg := err.Error()
	if msg == "" {
		msg = "operation failed"
	}
	return &ProviderResponse{Message: msg, Reason: string(backend.ReasonOf(err))}
}

// ErrNoPayload is returned by Decode when a successful envelope carries no data.
var ErrNoPayload = errors.New("response carries no data")

// Decode unmarshals the envelope's data into v.
func (m *ProviderResponse) Decode(v any) error {
	if len(m.Data) == 0 {
		return ErrNoPayload
	}
	return json.Unmarshal(m.Data, v)
}
