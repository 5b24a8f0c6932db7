package onramp_test

import (
	"context"
	"fmt"
	"time"

	"github.com/jcelliott/onramp"
)

func ExampleDial() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := onramp.Dial(ctx, "ws://127.0.0.1:8080/ws", nil)
	if err != nil {
		panic("Error connecting:" + err.Error())
	}
	defer s.Close()

	f, err := s.Call("rpc:test")
	if err != nil {
		panic("Error calling:" + err.Error())
	}
	result, err := f.Wait(ctx)
	if err != nil {
		panic("Call failed:" + err.Error())
	}
	fmt.Println(result)
}

func ExampleSession_Subscribe() {
	s, err := onramp.Dial(context.Background(), "ws://127.0.0.1:8080/ws", nil)
	if err != nil {
		panic("Error connecting:" + err.Error())
	}

	s.Prefix("event", "http://example.com/event#")
	l := onramp.NewListener(func(topic string, event interface{}) {
		fmt.Printf("%s: %v\n", topic, event)
	})
	if err := s.Subscribe("event:chat", l); err != nil {
		panic("Error subscribing:" + err.Error())
	}
	<-s.Done()
}

func ExampleSupervisor() {
	sv := onramp.NewSupervisor(func(ctx context.Context) (*onramp.Session, error) {
		return onramp.Dial(ctx, "ws://127.0.0.1:8080/ws", nil)
	}, onramp.SupervisorConfig{
		OnConnect: func(s *onramp.Session) {
			s.Subscribe("http://example.com/event#chat", onramp.NewListener(
				func(topic string, event interface{}) { fmt.Println(event) }))
		},
	})
	if err := sv.Run(context.Background()); err != nil {
		fmt.Println(err)
	}
}
