package queue

// BatchItemFailure names one delivery that must be redelivered. The JSON
// shape matches the SQS partial batch response.
type BatchItemFailure struct {
	ItemIdentifier string `json:"itemIdentifier"`
}

// BatchResponse is the writer's verdict on a batch. An empty list means
// every item is done, either committed or a suppressed duplicate.
type BatchResponse struct {
	BatchItemFailures []BatchItemFailure `json:"batchItemFailures"`
}

// Fail appends id to the failure list.
func (r *BatchResponse) Fail(id string) {
	r.BatchItemFailures = append(r.BatchItemFailures, BatchItemFailure{ItemIdentifier: id})
}

// Failed reports whether id is in the failure list.
func (r BatchResponse) Failed(id string) bool {
	for _, f := range r.BatchItemFailures {
		if f.ItemIdentifier == id {
			return true
		}
	}
	return false
}

func (r BatchResponse) FailedIDs() []string {
	ids := make([]string, 0, len(r.BatchItemFailures))
	for _, f := range r.BatchItemFailures {
		ids = append(ids, f.ItemIdentifier)
	}
	return ids
}

// failedSet indexes the response for settlement loops.
func (r BatchResponse) failedSet() map[string]struct{} {
	set := make(map[string]struct{}, len(r.BatchItemFailures))
	for _, f := range r.BatchItemFailures {
		set[f.ItemIdentifier] = struct{}{}
	}
	return set
}
