package wavedaq

// Contains the ClientUpdater, which publishes JSON-encoded messages giving
// the latest task and waveform state.

import (
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/pebbe/zmq4"
	"github.com/usnistgov/wavedaq/internal/metrics"
	"github.com/usnistgov/wavedaq/internal/unboundedchan"
)

// ClientUpdate carries the messages to be published on the status port.
type ClientUpdate struct {
	tag   string
	state any
}

// Topics published on the status port.
const (
	TopicStatus   = "STATUS"
	TopicTask     = "TASK"
	TopicWaveform = "WAVEFORM"
	TopicSendAll  = "SENDALL"
)

// updateQueue sits between publishers and the ZMQ socket so a slow or absent
// status socket never blocks an RPC handler.
var updateQueue = unboundedchan.NewUnboundedChannel[ClientUpdate]()

// clientMessageChan is where all status updates are sent.
var clientMessageChan = updateQueue.In()

// publisherRunning is true while RunClientUpdater has a bound socket.
var publisherRunning atomic.Bool

// queueUpdate hands an update to the publisher. With no publisher running the
// update is dropped, so the queue cannot grow without a consumer.
func queueUpdate(update ClientUpdate) {
	if !publisherRunning.Load() {
		return
	}
	clientMessageChan <- update
}

func encodeUpdate(update ClientUpdate) ([]byte, error) {
	message, err := json.Marshal(update.state)
	if err != nil {
		return nil, fmt.Errorf("encoding %s update: %w", update.tag, err)
	}
	return message, nil
}

// RunClientUpdater forwards any message from the update queue to the ZMQ
// publisher socket until abort is closed. If the socket cannot be created or
// bound it returns at once, and updates are dropped instead of queued.
func RunClientUpdater(portstatus int, abort <-chan struct{}) {
	pubSocket, err := zmq4.NewSocket(zmq4.PUB)
	if err != nil {
		ProblemLogger.Printf("Could not create status socket: %v", err)
		return
	}
	defer pubSocket.Close()
	hostname := fmt.Sprintf("tcp://*:%d", portstatus)
	if err := pubSocket.Bind(hostname); err != nil {
		ProblemLogger.Printf("Could not bind status socket %s: %v", hostname, err)
		return
	}
	publisherRunning.Store(true)
	defer publisherRunning.Store(false)

	for {
		select {
		case <-abort:
			return
		case update := <-updateQueue.Out():
			message, err := encodeUpdate(update)
			if err != nil {
				ProblemLogger.Print(err)
				continue
			}
			if _, err := pubSocket.SendMessage(update.tag, message); err != nil {
				ProblemLogger.Printf("Could not publish %s update: %v", update.tag, err)
				continue
			}
			metrics.RecordStatusMessage(update.tag)
			if update.tag != TopicStatus {
				UpdateLogger.Printf("SEND %s %s", update.tag, message)
			}
		}
	}
}
