package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"pianoroll/midi"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}

	switch os.Args[1] {
	case "list":
		listPorts()
	case "note":
		playNote(os.Args[2:])
	case "panic":
		sendPanic(os.Args[2:])
	default:
		usage()
	}
}

func usage() {
	fmt.Println("midi port check")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  list               - list output ports")
	fmt.Println("  note [port] [key]  - play one note (default: first port, middle C)")
	fmt.Println("  panic [port]       - all sound off on every channel")
}

func listPorts() {
	fmt.Println("=== MIDI Output Ports ===")
	fmt.Println("(waiting up to 3 seconds...)")

	ch := make(chan []string, 1)
	go func() { ch <- midi.OutPorts() }()

	select {
	case names := <-ch:
		if len(names) == 0 {
			fmt.Println("  none")
			return
		}
		for i, name := range names {
			fmt.Printf("  %d: %s\n", i, name)
		}
	case <-time.After(3 * time.Second):
		fmt.Println("\nTIMEOUT! The MIDI backend is hung.")
	}
}

func playNote(args []string) {
	port := ""
	key := uint8(60)
	if len(args) > 0 {
		port = args[0]
	}
	if len(args) > 1 {
		k, err := strconv.Atoi(args[1])
		if err != nil || k < 0 || k > 127 {
			fmt.Printf("bad key %q (want 0-127)\n", args[1])
			return
		}
		key = uint8(k)
	}

	sink, err := midi.OpenPort(port)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer sink.Close()

	fmt.Printf("Playing %s on %s...\n", midi.NoteName(key), sink.Name())

	now := time.Now()
	on := midi.Event{Type: midi.NoteOn, Channel: 0, Note: key, Velocity: 100}
	if err := sink.Send(on, now); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	time.Sleep(500 * time.Millisecond)

	off := midi.Event{Type: midi.NoteOff, Channel: 0, Note: key}
	if err := sink.Send(off, time.Now()); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Println("Done!")
}

func sendPanic(args []string) {
	port := ""
	if len(args) > 0 {
		port = args[0]
	}

	sink, err := midi.OpenPort(port)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer sink.Close()

	fmt.Printf("Silencing %s...\n", sink.Name())
	if err := midi.Panic(sink); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Println("Done!")
}
