package location

import (
	"io"

	"github.com/example/fuelqueue/internal/booking/domain"
)

// Server implements the LocationServer interface.
type Server struct {
	observer *StreamObserver
}

// NewServer constructs a server.
func NewServer(observer *StreamObserver) *Server {
	return &Server{observer: observer}
}

// StreamLocation ingests vehicle locations and updates the observer.
func (s *Server) StreamLocation(stream Location_StreamLocationServer) error {
	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			return stream.SendAndClose(&Ack{})
		}
		if err != nil {
			return err
		}
		if msg.VehicleId == "" {
			continue
		}
		s.observer.Update(stream.Context(), msg.VehicleId, domain.GeoPoint{Lat: msg.Lat, Lng: msg.Lng}, msg.SpeedKph, msg.Accuracy)
	}
}
