package callkit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go"
	"github.com/pion/logging"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type firebaseConfig struct {
	Type                    string `json:"type"`
	ProjectID               string `json:"project_id"`
	PrivateKeyID            string `json:"private_key_id"`
	PrivateKey              string `json:"private_key"`
	ClientEmail             string `json:"client_email"`
	ClientID                string `json:"client_id"`
	AuthURI                 string `json:"auth_uri"`
	TokenURI                string `json:"token_uri"`
	AuthProviderX509CertURL string `json:"auth_provider_x509_cert_url"`
	ClientX509CertURL       string `json:"client_x509_cert_url"`
	UniverseDomain          string `json:"universe_domain"`
}

// GetFirebaseConfiguration assembles service account credentials from the
// environment.
func GetFirebaseConfiguration() (option.ClientOption, error) {
	config := firebaseConfig{
		Type:                    os.Getenv("FIREBASE_TYPE"),
		ProjectID:               os.Getenv("FIREBASE_PROJECT_ID"),
		PrivateKeyID:            os.Getenv("FIREBASE_PRIVATE_KEY_ID"),
		PrivateKey:              strings.ReplaceAll(os.Getenv("FIREBASE_PRIVATE_KEY"), "\\n", "\n"),
		ClientEmail:             os.Getenv("FIREBASE_CLIENT_EMAIL"),
		ClientID:                os.Getenv("FIREBASE_CLIENT_ID"),
		AuthURI:                 os.Getenv("FIREBASE_AUTH_URI"),
		TokenURI:                os.Getenv("FIREBASE_AUTH_TOKEN_URI"),
		AuthProviderX509CertURL: os.Getenv("FIREBASE_AUTH_PROVIDER_X509_CERT_URL"),
		ClientX509CertURL:       os.Getenv("FIREBASE_AUTH_CLIENT_X509_CERT_URL"),
		UniverseDomain:          os.Getenv("FIREBASE_UNIVERSE_DOMAIN"),
	}

	configBytes, err := json.Marshal(config)
	if err != nil {
		return nil, err
	}
	return option.WithCredentialsJSON(configBytes), nil
}

const (
	collectionRooms     = "rooms"
	collectionPeers     = "peers"
	collectionInbox     = "inbox"
	collectionBroadcast = "broadcast"

	fieldMessage   = "message"
	fieldCreatedAt = "created_at"
)

// FirestoreRelay carries signal messages through Firestore. Directed
// messages land in the addressee's inbox collection; messages without an
// addressee go to the room's broadcast collection. Documents are deleted
// after dispatch, so redelivery across snapshot reconnects is possible and
// left to the router's dedup to absorb.
type FirestoreRelay struct {
	app     *firebase.App
	client  *firestore.Client
	room    string
	localID string
	log     logging.LeveledLogger

	mu       sync.Mutex
	handlers map[HandlerID]Handler
	nextID   atomic.Int64

	closeOnce sync.Once
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewFirestoreRelay(ctx context.Context, room, localID string, options ...option.ClientOption) (*FirestoreRelay, error) {
	if len(options) == 0 {
		configuration, err := GetFirebaseConfiguration()
		if err != nil {
			return nil, err
		}
		options = []option.ClientOption{configuration}
	}

	app, err := firebase.NewApp(ctx, nil, options...)
	if err != nil {
		return nil, fmt.Errorf("error while creating firebase app: %w", err)
	}
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("error while creating firestore client: %w", err)
	}

	ctx2, cancel2 := context.WithCancel(ctx)

	r := &FirestoreRelay{
		app:      app,
		client:   client,
		room:     room,
		localID:  localID,
		log:      logging.NewDefaultLoggerFactory().NewLogger("relay"),
		handlers: make(map[HandlerID]Handler),
		ctx:      ctx2,
		cancel:   cancel2,
	}

	r.wg.Add(2)
	go r.watch(r.inbox())
	go r.watch(r.broadcastCollection())

	return r, nil
}

func (r *FirestoreRelay) roomDoc() *firestore.DocumentRef {
	return r.client.Collection(collectionRooms).Doc(r.room)
}

func (r *FirestoreRelay) inbox() *firestore.CollectionRef {
	return r.roomDoc().Collection(collectionPeers).Doc(r.localID).Collection(collectionInbox)
}

func (r *FirestoreRelay) broadcastCollection() *firestore.CollectionRef {
	return r.roomDoc().Collection(collectionBroadcast)
}

func (r *FirestoreRelay) Send(msg SignalMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	doc := map[string]interface{}{
		fieldMessage:   string(data),
		fieldCreatedAt: firestore.ServerTimestamp,
	}

	target := r.broadcastCollection()
	if msg.To != "" {
		target = r.roomDoc().Collection(collectionPeers).Doc(msg.To).Collection(collectionInbox)
	}

	if _, _, err := target.Add(r.ctx, doc); err != nil {
		return fmt.Errorf("error while writing message to firestore: %w", err)
	}
	return nil
}

func (r *FirestoreRelay) AddHandler(fn Handler) HandlerID {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := HandlerID(r.nextID.Add(1))
	r.handlers[id] = fn
	return id
}

func (r *FirestoreRelay) RemoveHandler(id HandlerID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.handlers, id)
}

func (r *FirestoreRelay) watch(collection *firestore.CollectionRef) {
	defer r.wg.Done()

	snapshots := collection.Query.Snapshots(r.ctx)
	defer snapshots.Stop()

	for {
		snapshot, err := snapshots.Next()
		if err != nil {
			if r.ctx.Err() != nil || status.Code(err) == codes.Canceled {
				return
			}
			r.log.Warnf("error while watching %s: %v", collection.Path, err)
			return
		}

		for _, change := range snapshot.Changes {
			if change.Kind != firestore.DocumentAdded {
				continue
			}
			r.dispatch(change.Doc)
		}
	}
}

func (r *FirestoreRelay) dispatch(doc *firestore.DocumentSnapshot) {
	raw, ok := doc.Data()[fieldMessage].(string)
	if !ok {
		r.log.Warnf("dropping malformed firestore document %s", doc.Ref.ID)
		return
	}

	var msg SignalMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		r.log.Warnf("dropping undecodable message %s: %v", doc.Ref.ID, err)
		return
	}

	if _, err := doc.Ref.Delete(r.ctx); err != nil && status.Code(err) != codes.NotFound {
		r.log.Debugf("error while deleting message %s: %v", doc.Ref.ID, err)
	}

	if msg.From == r.localID {
		return
	}

	r.mu.Lock()
	handlers := make([]Handler, 0, len(r.handlers))
	for _, fn := range r.handlers {
		handlers = append(handlers, fn)
	}
	r.mu.Unlock()

	for _, fn := range handlers {
		fn(msg)
	}
}

func (r *FirestoreRelay) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.cancel()
		r.wg.Wait()
		err = r.client.Close()
	})
	return err
}
