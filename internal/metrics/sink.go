package metrics

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/IBM/sarama"
)

// Sink：埋点事件的发射口。只管发出去，不保证送达，永远不报错。
type Sink interface {
	Record(event string, payload map[string]any)
}

// Noop：埋点被配置关掉时用
type Noop struct{}

func (Noop) Record(string, map[string]any) {}

type Event struct {
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload,omitempty"`
	At      time.Time      `json:"at"`
}

// KafkaSink：本地有界队列 + worker 异步发送 + 有限重试。
// 目标：
// - Record 只负责入队，绝不阻塞调用方
// - Kafka 短暂抖动时靠队列吸收，后台慢慢补发
// - 队列满时直接丢弃，埋点不值得占内存
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string

	queue   chan Event
	workers sync.WaitGroup

	maxRetry    int
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

type KafkaSinkOptions struct {
	QueueSize   int
	Workers     int
	MaxRetry    int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func NewKafkaSink(producer sarama.SyncProducer, topic string, opt KafkaSinkOptions) *KafkaSink {
	if opt.QueueSize <= 0 {
		opt.QueueSize = 4096
	}
	if opt.Workers <= 0 {
		opt.Workers = 2
	}
	if opt.MaxRetry <= 0 {
		opt.MaxRetry = 3
	}
	if opt.BaseBackoff <= 0 {
		opt.BaseBackoff = 50 * time.Millisecond
	}
	if opt.MaxBackoff <= 0 {
		opt.MaxBackoff = 1 * time.Second
	}
	s := &KafkaSink{
		producer:    producer,
		topic:       topic,
		queue:       make(chan Event, opt.QueueSize),
		maxRetry:    opt.MaxRetry,
		baseBackoff: opt.BaseBackoff,
		maxBackoff:  opt.MaxBackoff,
	}
	s.workers.Add(opt.Workers)
	for i := 0; i < opt.Workers; i++ {
		go s.workerLoop(i)
	}
	return s
}

// Record 非阻塞入队；队列满了直接丢
func (s *KafkaSink) Record(event string, payload map[string]any) {
	evt := Event{Event: event, Payload: payload, At: time.Now()}
	select {
	case s.queue <- evt:
	default:
	}
}

// Close 停止接收新事件，并等 worker 把已入队的发完再返回。
// 返回之后才能安全关闭底层 producer，否则排空中的尾部事件会发送失败。
func (s *KafkaSink) Close() {
	close(s.queue)
	s.workers.Wait()
}

func (s *KafkaSink) workerLoop(workerID int) {
	defer s.workers.Done()
	for evt := range s.queue {
		s.sendWithRetry(workerID, evt)
	}
}

func (s *KafkaSink) sendWithRetry(workerID int, evt Event) {
	for attempt := 0; attempt <= s.maxRetry; attempt++ {
		err := s.sendOnce(evt)
		if err == nil {
			return
		}
		if attempt == s.maxRetry {
			log.Printf("metrics send failed, drop event=%s worker=%d err=%v", evt.Event, workerID, err)
			return
		}
		// 退避，每次退避时间X2
		backoff := s.baseBackoff * time.Duration(1<<attempt)
		if backoff > s.maxBackoff {
			backoff = s.maxBackoff
		}
		time.Sleep(backoff)
	}
}

func (s *KafkaSink) sendOnce(evt Event) error {
	if s.producer == nil || s.topic == "" {
		return nil
	}
	b, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(evt.Event),
		Value: sarama.ByteEncoder(b),
	}
	_, _, err = s.producer.SendMessage(msg)
	return err
}
