package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	jsoncodec "github.com/drblury/cekafka/internal/runtime/jsoncodec"
)

// EnvPrefix prefixes the environment variables read by FromEnv.
const EnvPrefix = "CEKAFKA_"

type setter func(c *Config, value string) error

func str(field func(*Config) *string) setter {
	return func(c *Config, v string) error {
		*field(c) = strings.TrimSpace(v)
		return nil
	}
}

func boolean(field func(*Config) *bool) setter {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

func integer(field func(*Config) *int) setter {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

// millis accepts a plain number of milliseconds or a Go duration string.
func millis(field func(*Config) *time.Duration) setter {
	return func(c *Config, v string) error {
		v = strings.TrimSpace(v)
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*field(c) = time.Duration(n) * time.Millisecond
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}
}

func list(field func(*Config) *[]string) setter {
	return func(c *Config, v string) error {
		var out []string
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		*field(c) = out
		return nil
	}
}

// properties maps Java-client style property names onto Config fields.
var properties = map[string]setter{
	"topic":                                str(func(c *Config) *string { return &c.Topic }),
	"producer.id":                          str(func(c *Config) *string { return &c.ProducerID }),
	"client.id":                            str(func(c *Config) *string { return &c.ProducerID }),
	"consume.group.id":                     str(func(c *Config) *string { return &c.ConsumerGroup }),
	"group.id":                             str(func(c *Config) *string { return &c.ConsumerGroup }),
	"client.tag":                           str(func(c *Config) *string { return &c.ClientTag }),
	"event.type":                           str(func(c *Config) *string { return &c.EventType }),
	"event.source":                         str(func(c *Config) *string { return &c.EventSource }),
	"bootstrap.servers":                    list(func(c *Config) *[]string { return &c.KafkaBrokers }),
	"kafka.version":                        str(func(c *Config) *string { return &c.KafkaVersion }),
	"security.protocol":                    str(func(c *Config) *string { return &c.SecurityProtocol }),
	"sasl.mechanism":                       str(func(c *Config) *string { return &c.SASLMechanism }),
	"sasl.username":                        str(func(c *Config) *string { return &c.SASLUsername }),
	"sasl.password":                        str(func(c *Config) *string { return &c.SASLPassword }),
	"sasl.jaas.config":                     str(func(c *Config) *string { return &c.SASLJAASConfig }),
	"client.dns.lookup":                    str(func(c *Config) *string { return &c.ClientDNSLookup }),
	"enable.idempotence":                   boolean(func(c *Config) *bool { return &c.EnableIdempotence }),
	"acks":                                 str(func(c *Config) *string { return &c.Acks }),
	"auto.create.topics.enable":            boolean(func(c *Config) *bool { return &c.AutoCreateTopics }),
	"auto.offset.reset":                    str(func(c *Config) *string { return &c.AutoOffsetReset }),
	"schema.registry.url":                  str(func(c *Config) *string { return &c.SchemaRegistryURL }),
	"schema.registry.basic.auth.user.info": str(func(c *Config) *string { return &c.SchemaRegistryUserInfo }),
	"basic.auth.user.info":                 str(func(c *Config) *string { return &c.SchemaRegistryUserInfo }),
	"basic.auth.credentials.source":        str(func(c *Config) *string { return &c.BasicAuthCredentialsSource }),
	"auto.register.schemas":                boolean(func(c *Config) *bool { return &c.AutoRegisterSchemas }),
	"use.latest.version":                   boolean(func(c *Config) *bool { return &c.UseLatestVersion }),
	"latest.compatibility.strict":          boolean(func(c *Config) *bool { return &c.StrictCompatibility }),
	"json.fail.invalid.schema":             boolean(func(c *Config) *bool { return &c.FailInvalidSchema }),
	"latest.cache.ttl.ms":                  millis(func(c *Config) *time.Duration { return &c.SchemaCacheTTL }),
	"counter.modulus":                      integer(func(c *Config) *int { return &c.CounterModulus }),
	"poll.timeout.ms":                      millis(func(c *Config) *time.Duration { return &c.PollTimeout }),
	"max.poll.records":                     integer(func(c *Config) *int { return &c.MaxPollRecords }),
	"send.timeout.ms":                      millis(func(c *Config) *time.Duration { return &c.SendTimeout }),
	"shutdown.timeout.ms":                  millis(func(c *Config) *time.Duration { return &c.ShutdownTimeout }),
	"record.policy":                        str(func(c *Config) *string { return &c.RecordPolicy }),
	"dead.letter.transport":                str(func(c *Config) *string { return &c.DeadLetterTransport }),
	"dead.letter.topic":                    str(func(c *Config) *string { return &c.DeadLetterTopic }),
	"rabbitmq.url":                         str(func(c *Config) *string { return &c.RabbitMQURL }),
	"nats.url":                             str(func(c *Config) *string { return &c.NATSURL }),
	"http.address":                         str(func(c *Config) *string { return &c.HTTPAddress }),
	"metrics.enabled":                      boolean(func(c *Config) *bool { return &c.MetricsEnabled }),
	"log.level":                            str(func(c *Config) *string { return &c.LogLevel }),
	"log.format":                           str(func(c *Config) *string { return &c.LogFormat }),
}

// Keys returns the recognised property names, sorted.
func Keys() []string {
	names := make([]string, 0, len(properties))
	for k := range properties {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Set applies a single property. Unknown keys are reported as errors.
func (c *Config) Set(key, value string) error {
	apply, ok := properties[strings.ToLower(strings.TrimSpace(key))]
	if !ok {
		return fmt.Errorf("unknown property %q", key)
	}
	if err := apply(c, value); err != nil {
		return fmt.Errorf("property %q: %w", key, err)
	}
	return nil
}

// Load reads a .properties or .json file over Default. Properties the
// library does not know are returned in ignored so callers can log them;
// Java client settings are commonly shared between tools.
func Load(path string) (cfg Config, ignored []string, err error) {
	cfg = Default()
	f, err := os.Open(path)
	if err != nil {
		return cfg, nil, err
	}
	defer func() { _ = f.Close() }()

	var props map[string]string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		props, err = readJSON(f)
	default:
		props, err = readProperties(f)
	}
	if err != nil {
		return cfg, nil, fmt.Errorf("read %s: %w", path, err)
	}

	ignored, err = cfg.apply(props)
	return cfg, ignored, err
}

func (c *Config) apply(props map[string]string) ([]string, error) {
	names := make([]string, 0, len(props))
	for k := range props {
		names = append(names, k)
	}
	sort.Strings(names)

	var ignored []string
	for _, k := range names {
		if _, ok := properties[strings.ToLower(k)]; !ok {
			ignored = append(ignored, k)
			continue
		}
		if err := c.Set(k, props[k]); err != nil {
			return ignored, err
		}
	}
	return ignored, nil
}

// readProperties parses the Java .properties subset used by client config
// files: key=value or key:value lines, # and ! comments, and trailing
// backslash continuations.
func readProperties(r io.Reader) (map[string]string, error) {
	props := make(map[string]string)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var pending strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if pending.Len() == 0 && (line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!")) {
			continue
		}
		if strings.HasSuffix(line, `\`) {
			pending.WriteString(strings.TrimSuffix(line, `\`))
			continue
		}
		pending.WriteString(line)
		entry := pending.String()
		pending.Reset()

		idx := strings.IndexAny(entry, "=:")
		if idx <= 0 {
			return nil, fmt.Errorf("malformed line %q", entry)
		}
		props[strings.TrimSpace(entry[:idx])] = strings.TrimSpace(entry[idx+1:])
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return props, nil
}

func readJSON(r io.Reader) (map[string]string, error) {
	var raw map[string]any
	if err := jsoncodec.Decode(r, &raw); err != nil {
		return nil, err
	}
	props := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			props[k] = val
		case []any:
			parts := make([]string, 0, len(val))
			for _, p := range val {
				parts = append(parts, fmt.Sprint(p))
			}
			props[k] = strings.Join(parts, ",")
		case float64:
			props[k] = strconv.FormatFloat(val, 'f', -1, 64)
		default:
			props[k] = fmt.Sprint(val)
		}
	}
	return props, nil
}

// EnvName returns the environment variable for a property name, for example
// CEKAFKA_BOOTSTRAP_SERVERS for bootstrap.servers.
func EnvName(key string) string {
	return EnvPrefix + strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
}

// FromEnv overlays CEKAFKA_* environment variables onto cfg.
func FromEnv(cfg *Config) error {
	return fromLookup(cfg, os.LookupEnv)
}

func fromLookup(cfg *Config, lookup func(string) (string, bool)) error {
	for _, key := range Keys() {
		v, ok := lookup(EnvName(key))
		if !ok || v == "" {
			continue
		}
		if err := cfg.Set(key, v); err != nil {
			return fmt.Errorf("%s: %w", EnvName(key), err)
		}
	}
	return nil
}
