package vmix

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Producer is an application stream discovered by the host, routed to a
// channel by the rule engine or by hand.
type Producer struct {
	ID string `json:"id"`

	// Name is the display name reported by the application.
	Name string `json:"name"`

	// Binary is the executable name, when known.
	Binary string `json:"binary,omitempty"`

	// Channel is the id of the channel the producer is routed to. Empty
	// means unassigned.
	Channel string `json:"channel,omitempty"`

	// Manual is set when the assignment came from AssignProducer rather
	// than a routing rule. Manual assignments are not re-routed.
	Manual bool `json:"manual,omitempty"`
}

// AddProducer tracks a producer and routes it with the rule engine. A
// producer no rule matches, or whose rule names a missing channel, stays
// unassigned. An empty ID is replaced by a new one.
func (m *Mixer) AddProducer(p Producer) (Producer, error) {
	if p.Name == "" && p.Binary == "" {
		return Producer{}, ErrInvalidProducer
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.Channel = ""
	p.Manual = false

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return Producer{}, ErrMixerClosed
	}
	if old, ok := m.producers[p.ID]; ok {
		m.unassignLocked(old)
	}
	stored := p
	m.producers[p.ID] = &stored
	m.routeLocked(&stored)
	return stored, nil
}

// RemoveProducer forgets a producer.
func (m *Mixer) RemoveProducer(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.producers[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrProducerNotFound, id)
	}
	m.unassignLocked(p)
	delete(m.producers, id)
	return nil
}

// AssignProducer routes a producer to a channel by hand. An empty channel
// id unassigns it. Manual assignments survive RouteUnassigned.
func (m *Mixer) AssignProducer(producerID, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.producers[producerID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrProducerNotFound, producerID)
	}
	var target *Channel
	if channelID != "" {
		if target, ok = m.channels[channelID]; !ok {
			return fmt.Errorf("%w: %s", ErrChannelNotFound, channelID)
		}
	}

	m.unassignLocked(p)
	if target != nil {
		p.Channel = target.id
		p.Manual = true
		target.addProducer(p.ID)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Mixer.AssignProducer",
		"producer": p.Name,
		"channel":  channelID,
	}).Info("Producer assigned manually")
	return nil
}

// Producers returns every tracked producer ordered by name.
func (m *Mixer) Producers() []Producer {
	return m.listProducers(func(*Producer) bool { return true })
}

// UnassignedProducers returns the producers not routed to any channel.
func (m *Mixer) UnassignedProducers() []Producer {
	return m.listProducers(func(p *Producer) bool { return p.Channel == "" })
}

func (m *Mixer) listProducers(keep func(*Producer) bool) []Producer {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Producer, 0, len(m.producers))
	for _, p := range m.producers {
		if keep(p) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// RouteUnassigned runs the rules again for every unassigned producer and
// returns how many were assigned. It is called after channels are created
// and may be called after the rules change.
func (m *Mixer) RouteUnassigned() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	routed := 0
	for _, p := range m.producers {
		if p.Channel == "" && m.routeLocked(p) {
			routed++
		}
	}
	return routed
}

func (m *Mixer) routeLocked(p *Producer) bool {
	rule, ok := m.rules.Match(p.Name, p.Binary)
	if !ok {
		logrus.WithFields(logrus.Fields{
			"function": "Mixer.route",
			"producer": p.Name,
			"binary":   p.Binary,
		}).Debug("No routing rule matched, producer unassigned")
		return false
	}
	c, ok := m.byName[rule.TargetChannel]
	if !ok {
		logrus.WithFields(logrus.Fields{
			"function": "Mixer.route",
			"producer": p.Name,
			"rule":     rule.Name,
			"channel":  rule.TargetChannel,
		}).Debug("Rule target channel does not exist, producer unassigned")
		return false
	}

	p.Channel = c.id
	c.addProducer(p.ID)

	logrus.WithFields(logrus.Fields{
		"function": "Mixer.route",
		"producer": p.Name,
		"rule":     rule.Name,
		"channel":  c.name,
	}).Info("Producer routed")
	return true
}

func (m *Mixer) unassignLocked(p *Producer) {
	if p.Channel == "" {
		return
	}
	if c, ok := m.channels[p.Channel]; ok {
		c.removeProducer(p.ID)
	}
	p.Channel = ""
	p.Manual = false
}
