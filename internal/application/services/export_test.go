package services

// HeldClinicLocks reports how many per-clinic locks the service is tracking
func HeldClinicLocks(s *QueueService) int {
	return s.locks.Len()
}
