package job

// AcceptPayload is the body PUT to a quoted job to run it.
func AcceptPayload() []byte {
	return []byte(`{"status":"accept"}`)
}

// RejectPayload is the body PUT to a quoted job to discard it.
func RejectPayload() []byte {
	return []byte(`{"status":"reject"}`)
}
