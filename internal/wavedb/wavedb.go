// Package wavedb records server sessions and task runs in a ClickHouse database.
package wavedb

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// Connection is an open (or failed) connection to the database. All Record
// methods are no-ops unless the connection is live.
type Connection struct {
	conn     clickhouse.Conn
	err      error
	activity *ActivityMessage
	taskrun  chan *TaskRunMessage
	pending  sync.WaitGroup // FinishTaskRun sends not yet accepted
	sync.WaitGroup
}

const databaseName = "wavedaq"

// Environment variables that hold the database address and credentials.
const (
	EnvAddress  = "WAVEDAQ_DB_ADDRESS"
	EnvUser     = "WAVEDAQ_DB_USER"
	EnvPassword = "WAVEDAQ_DB_PASSWORD"
)

const defaultAddress = "localhost:9000"

// IsConnected reports whether db is a live connection.
func (db *Connection) IsConnected() bool {
	return (db != nil) && (db.conn != nil) && (db.err == nil)
}

// Err returns the error that ended the connection, if any.
func (db *Connection) Err() error {
	if db == nil {
		return fmt.Errorf("no database connection")
	}
	return db.err
}

// PingServer connects, prints the server version, and disconnects.
func PingServer() error {
	db := createConnection()
	if !db.IsConnected() {
		return fmt.Errorf("database is not connected: %v", db.err)
	}
	defer db.conn.Close()
	v, err := db.conn.ServerVersion()
	if err != nil {
		return err
	}
	fmt.Printf("ClickHouse server is alive. Version:\n%s\n", v)
	return nil
}

// StartConnection opens the database, records the session start, and handles
// messages until abort is closed. Call Wait after closing abort.
func StartConnection(activity *ActivityMessage, abort <-chan struct{}) *Connection {
	db := createConnection()
	db.activity = activity
	if !db.IsConnected() {
		return db
	}
	db.logActivity()
	go db.handleConnection(abort)
	return db
}

// DummyConnection returns a connection that records nothing. Wait returns at once.
func DummyConnection() *Connection {
	return &Connection{}
}

func options() *clickhouse.Options {
	addr := os.Getenv(EnvAddress)
	if addr == "" {
		addr = defaultAddress
	}
	return &clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: databaseName,
			Username: os.Getenv(EnvUser),
			Password: os.Getenv(EnvPassword),
		},
		ClientInfo: clickhouse.ClientInfo{
			Products: []struct {
				Name    string
				Version string
			}{
				{Name: "wavedaq", Version: "unknown"},
			},
		},
		DialTimeout: 2 * time.Second,
	}
}

func createConnection() *Connection {
	db := &Connection{}
	conn, err := clickhouse.Open(options())
	if err != nil {
		db.err = err
		return db
	}
	if err = conn.Ping(context.Background()); err != nil {
		if exception, ok := err.(*clickhouse.Exception); ok {
			fmt.Printf("Exception [%d] %s \n%s\n", exception.Code, exception.Message, exception.StackTrace)
		}
		conn.Close()
		db.err = err
		return db
	}
	db.conn = conn
	db.taskrun = make(chan *TaskRunMessage)
	db.Add(1)
	return db
}

func (db *Connection) logActivity() {
	if !db.IsConnected() || db.activity == nil {
		return
	}
	ctx := context.Background()
	const nowait = false
	a := db.activity
	if err := db.conn.AsyncInsert(ctx, `INSERT INTO wavedaqactivity VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, nowait,
		a.ID, a.Hostname, a.Githash, a.Version, a.GoVersion, a.CPUs,
		a.Start.Format(timeFormat), a.End.Format(timeFormat),
	); err != nil {
		fmt.Println("Error raised on AsyncInsert into wavedaqactivity ", err)
		db.err = err
	}
}

func (db *Connection) handleConnection(abort <-chan struct{}) {
	defer db.Done()
	for {
		select {
		case <-abort:
			db.drain()
			db.disconnect()
			return
		case msg := <-db.taskrun:
			db.handleTaskRun(msg)
		}
	}
}

// drain stores every task-run record still being sent, so end times queued
// just before shutdown are not lost.
func (db *Connection) drain() {
	sent := make(chan struct{})
	go func() {
		db.pending.Wait()
		close(sent)
	}()
	for {
		select {
		case msg := <-db.taskrun:
			db.handleTaskRun(msg)
		case <-sent:
			return
		}
	}
}

func (db *Connection) disconnect() {
	if !db.IsConnected() {
		return
	}
	if db.activity != nil {
		db.activity.End = time.Now()
		db.logActivity()
	}
	db.conn.Close()
}

// RecordTaskRun stores the start of a task run. It blocks until the message is
// accepted so the row exists before FinishTaskRun can update it.
func (db *Connection) RecordTaskRun(msg *TaskRunMessage) {
	if !db.IsConnected() || msg == nil {
		return
	}
	db.taskrun <- msg
}

// FinishTaskRun stamps msg with the current time and stores it again. It does
// not block; records sent before abort is closed are stored before disconnecting.
func (db *Connection) FinishTaskRun(msg *TaskRunMessage) {
	if !db.IsConnected() || msg == nil {
		return
	}
	msg.End = time.Now()
	db.pending.Add(1)
	go func() {
		defer db.pending.Done()
		db.taskrun <- msg
	}()
}

func (db *Connection) handleTaskRun(m *TaskRunMessage) {
	if !db.IsConnected() {
		return
	}
	ctx := context.Background()
	const nowait = false
	activityID := ""
	if db.activity != nil {
		activityID = db.activity.ID
	}
	if err := db.conn.AsyncInsert(ctx, `INSERT INTO taskruns VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, nowait,
		m.ID, activityID, m.TaskName, m.TaskType,
		m.SamplingFrequencyHz, m.PeriodTimeMs, m.RestTimeMs,
		m.SampleMode, m.TriggerSource, m.Ports,
		m.Start.Format(timeFormat), m.End.Format(timeFormat),
	); err != nil {
		fmt.Println("Error raised on AsyncInsert into taskruns ", err)
		db.err = err
	}
}
