package config

type WorkerKeyStruct struct {
	PersistEventsQueue  string
	PersistAnswersQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PersistEventsQueue:  "persist_proctor_events_queue",
	PersistAnswersQueue: "persist_answers_queue",
}
